package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/isdelr/ark-warden/internal/console"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTunnel_CheckViaScript(t *testing.T) {
	scripts := &fakeScripts{output: "0"}
	svc := NewTunnelService(TunnelConfig{CheckScript: "check.ps1"}, scripts, newLifecycleFixture().svc, nil)

	up, err := svc.CheckTunnel(context.Background())
	require.NoError(t, err)
	assert.False(t, up)

	scripts.output = "1"
	up, err = svc.CheckTunnel(context.Background())
	require.NoError(t, err)
	assert.True(t, up)
}

func TestTunnel_CheckViaProcessList(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	self := filepath.Base(exe)
	if len(self) > 15 {
		self = self[:15] // kernel truncates comm
	}

	svc := NewTunnelService(TunnelConfig{ProcessName: self}, &fakeScripts{}, newLifecycleFixture().svc, nil)
	up, err := svc.CheckTunnel(context.Background())
	require.NoError(t, err)
	assert.True(t, up)

	svc.cfg.ProcessName = "no-such-tunnel-binary"
	up, err = svc.CheckTunnel(context.Background())
	require.NoError(t, err)
	assert.False(t, up)
}

func TestTunnel_ReloadGate(t *testing.T) {
	cases := []struct {
		name     string
		players  reply
		force    bool
		wantKind models.OutcomeKind
		wantRuns int
	}{
		{"players block", reply{resp: twoPlayers}, false, models.OutcomeBlocked, 0},
		{"force overrides", reply{resp: twoPlayers}, true, models.OutcomeOK, 1},
		{"empty server", reply{resp: noPlayersLine}, false, models.OutcomeOK, 1},
		{"unreachable server", reply{err: console.ErrUnreachable}, false, models.OutcomeOK, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newLifecycleFixture()
			f.console.on(cmdListPlayers, tc.players)
			scripts := &fakeScripts{}
			svc := NewTunnelService(TunnelConfig{RestartScript: "restart-tunnel.ps1"}, scripts, f.svc, nil)

			outcome, err := svc.ReloadTunnel(context.Background(), tc.force)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, outcome.Kind)
			assert.Len(t, scripts.calls, tc.wantRuns)
		})
	}
}
