package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/models"
	"canslim-monitor/internal/regime"
)

type recordingChannel struct {
	name    string
	enabled bool
	sent    []Notification
	err     error
}

func (r *recordingChannel) Name() string    { return r.name }
func (r *recordingChannel) IsEnabled() bool { return r.enabled }
func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func sampleScore() *regime.Score {
	prior := 0.80
	return &regime.Score{
		Date:      time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Composite: 1.20,
		Regime:    models.RegimeBullish,
		Phase:     models.PhaseConfirmedUptrend,
		Distribution: regime.CombinedDistribution{
			SPCount:  2,
			NasCount: 3,
			SPDelta:  -1,
			NasDelta: 0,
			Trend:    models.DDayImproving,
		},
		Overnight: regime.OvernightData{
			ESChangePct: 0.30,
			NQChangePct: 0.45,
			YMChangePct: -0.10,
		},
		RegimeTrend:    "improving",
		PriorScore:     &prior,
		EntryRiskScore: 0.85,
		EntryRiskLevel: models.EntryRiskLow,
		ExposureMinPct: 80,
		ExposureMaxPct: 100,
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{})
	a := &recordingChannel{name: "a", enabled: true}
	b := &recordingChannel{name: "b", enabled: true}
	off := &recordingChannel{name: "off", enabled: false}
	mn.AddChannel(a)
	mn.AddChannel(b)
	mn.AddChannel(off)

	err := mn.Send(context.Background(), Notification{
		Type:    NotificationInfo,
		Title:   "hello",
		Message: "world",
	})
	require.NoError(t, err)

	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
	assert.Empty(t, off.sent, "disabled channels are skipped")
	assert.False(t, a.sent[0].Timestamp.IsZero(), "timestamp is stamped on send")
}

func TestMultiNotifierCollectsChannelErrors(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{})
	good := &recordingChannel{name: "good", enabled: true}
	bad := &recordingChannel{name: "bad", enabled: true, err: errors.New("webhook down")}
	mn.AddChannel(good)
	mn.AddChannel(bad)

	err := mn.Send(context.Background(), Notification{Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification errors")
	assert.Contains(t, err.Error(), "bad: webhook down")
	assert.Len(t, good.sent, 1, "one failing channel does not block the others")
}

func TestMultiNotifierPhaseChangeSkipsNoChange(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{})
	ch := &recordingChannel{name: "ch", enabled: true}
	mn.AddChannel(ch)

	err := mn.SendPhaseChange(context.Background(), time.Now(), regime.PhaseTransition{
		Previous: models.PhaseCorrection,
		Current:  models.PhaseCorrection,
		Changed:  false,
	})
	require.NoError(t, err)
	assert.Empty(t, ch.sent)
}

func TestDiscordNotifierPostsContent(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(config.DiscordConfig{Enabled: true, WebhookURL: srv.URL})
	require.True(t, d.IsEnabled())

	err := d.Send(context.Background(), Notification{Message: "market update"})
	require.NoError(t, err)
	assert.Equal(t, "market update", payload["content"])
}

func TestDiscordNotifierTruncatesLongMessages(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		got = payload["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(config.DiscordConfig{Enabled: true, WebhookURL: srv.URL})
	err := d.Send(context.Background(), Notification{Message: strings.Repeat("x", 3000)})
	require.NoError(t, err)

	assert.Len(t, got, discordMessageLimit)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestDiscordNotifierDisabledWithoutURL(t *testing.T) {
	d := NewDiscordNotifier(config.DiscordConfig{Enabled: true, WebhookURL: ""})
	assert.False(t, d.IsEnabled())
}

func TestTerminalNotifierWrites(t *testing.T) {
	var buf bytes.Buffer
	term := &TerminalNotifier{out: &buf, enabled: true}

	err := term.Send(context.Background(), Notification{
		Title:     "Morning Market Regime",
		Message:   "BULLISH",
		Timestamp: time.Date(2025, 3, 14, 8, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Morning Market Regime")
	assert.Contains(t, buf.String(), "2025-03-14 08:30:00")
}

func TestFormatRegimeSummary(t *testing.T) {
	got := FormatRegimeSummary(sampleScore())

	assert.Contains(t, got, "**BULLISH** (+1.20)")
	assert.Contains(t, got, "SPY: 2 D-days")
	assert.Contains(t, got, "QQQ: 3 D-days")
	assert.Contains(t, got, "ES +0.30%")
}

func TestFormatRegimeAlert(t *testing.T) {
	got := FormatRegimeAlert(sampleScore())

	assert.Contains(t, got, "Morning Market Regime")
	assert.Contains(t, got, "Mar 14, 2025")
	assert.Contains(t, got, "Confirmed Uptrend")
	assert.Contains(t, got, "SPY   2  (-1 vs 5d ago)")
	assert.Contains(t, got, "Trend: IMPROVING")
	assert.Contains(t, got, "LOW (+0.85)")
	assert.Contains(t, got, "80-100%")
	assert.NotContains(t, got, "expired today", "no expiry line without expirations")
}

func TestFormatRegimeAlertFTDSections(t *testing.T) {
	days := 3

	tests := []struct {
		name string
		ftd  regime.PhaseStatus
		want string
	}{
		{
			name: "ftd today",
			ftd:  regime.PhaseStatus{FTDToday: true, FTDGainPct: 1.80},
			want: "Follow-Through Day today** (+1.80%)",
		},
		{
			name: "rally failed",
			ftd:  regime.PhaseStatus{RallyFailed: true},
			want: "Rally attempt failed",
		},
		{
			name: "rally in progress",
			ftd:  regime.PhaseStatus{InRallyAttempt: true, RallyDay: 3},
			want: "Rally attempt Day 3",
		},
		{
			name: "valid ftd with age",
			ftd:  regime.PhaseStatus{HasConfirmedFTD: true, FTDStillValid: true, DaysSinceFTD: &days},
			want: "FTD valid, 3 days ago",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleScore()
			s.FTD = tt.ftd
			assert.Contains(t, FormatRegimeAlert(s), tt.want)
		})
	}
}

func TestFormatPhaseChange(t *testing.T) {
	got := FormatPhaseChange(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), regime.PhaseTransition{
		Previous:      models.PhaseRallyAttempt,
		Current:       models.PhaseConfirmedUptrend,
		Changed:       true,
		ChangeType:    models.ChangeUpgrade,
		TriggerReason: "Follow-Through Day confirmed",
	})

	assert.Contains(t, got, "Rally Attempt → **Confirmed Uptrend**")
	assert.Contains(t, got, "Follow-Through Day confirmed")
	assert.Contains(t, got, "⬆️")
}

func TestFormatFTDAlert(t *testing.T) {
	got := FormatFTDAlert(regime.RallyStatus{
		Symbol:         "SPY",
		FTDToday:       true,
		FTDGainPct:     1.55,
		RallyDay:       4,
		RallyLow:       512.30,
		RallyStartDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, got, "Follow-Through Day — SPY")
	assert.Contains(t, got, "+1.55% on rally day 4")
	assert.Contains(t, got, "Rally started Mar 10, low 512.30")
}
