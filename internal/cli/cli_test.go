package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-restaurant-orders/internal/guest"
	"github.com/ariefcatur/go-restaurant-orders/internal/localdb"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
)

// setupTerminalEnv points the terminal at a fresh database and an API that
// refuses connections.
func setupTerminalEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TERMINAL_TENANT_ID", "7")
	t.Setenv("TERMINAL_DATA_PATH", filepath.Join(dir, "terminal.db"))
	t.Setenv("TERMINAL_API_URL", "http://127.0.0.1:1")
	t.Setenv("TERMINAL_REALTIME_URL", "http://127.0.0.1:1")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "terminal", cmd.Use)

	for _, name := range []string{"run", "list", "submit", "status", "cancel", "pay", "verify", "show", "queue", "guest"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	setupTerminalEnv(t)
	_, err := execute(t, "queue", "list", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSubmitWhileOfflineQueues(t *testing.T) {
	dir := setupTerminalEnv(t)
	path := filepath.Join(dir, "order.json")
	body := `{"orderType":"dine-in","tableNumber":"4","items":[
		{"menuItemId":"m1","itemName":"Paneer","quantity":1,"price":200},
		{"menuItemId":"m2","itemName":"Naan","quantity":1,"price":300}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute(t, "submit", path, "--format", "json")
	require.NoError(t, err)

	var o orders.Order
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, orders.StatusQueued, o.Status)
	assert.Equal(t, int64(500), o.TotalCents)
	assert.Equal(t, int64(7), o.TenantID)

	out, err = execute(t, "queue", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "create")
	assert.Contains(t, lines[0], o.ClientRef)

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "local\tQUEUED")
	assert.Contains(t, out, "5.00")
}

func TestSubmitRejectsBadInput(t *testing.T) {
	dir := setupTerminalEnv(t)
	path := filepath.Join(dir, "order.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"orderType":"DINE_IN","items":[]}`), 0o600))

	_, err := execute(t, "submit", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "submit", filepath.Join(dir, "missing.json"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatusChangeOfflineExitCode(t *testing.T) {
	setupTerminalEnv(t)

	_, err := execute(t, "status", "12", "READY")
	require.Error(t, err)
	assert.Equal(t, ExitOffline, GetExitCode(err))

	_, err = execute(t, "status", "12", "SHIPPED")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "cancel", "abc")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGuestShowAndClear(t *testing.T) {
	setupTerminalEnv(t)

	out, err := execute(t, "guest", "show")
	require.NoError(t, err)
	assert.Equal(t, "no guest session\n", out)

	_, err = execute(t, "guest", "clear")
	require.NoError(t, err)
}

func TestGuestHandOff(t *testing.T) {
	dir := setupTerminalEnv(t)

	out, err := execute(t, "guest", "handoff", "u-1")
	require.NoError(t, err)
	assert.Equal(t, "no guest session\n", out)

	db, err := localdb.Open(filepath.Join(dir, "terminal.db"))
	require.NoError(t, err)
	require.NoError(t, guest.NewStore(db, time.Hour, nil).Save(context.Background(), guest.Session{OrderID: 42, Secret: "sek"}))
	require.NoError(t, db.Close())

	out, err = execute(t, "guest", "handoff", "u-1", "--format", "json")
	require.NoError(t, err)
	var res struct {
		UserID  string `json:"userId"`
		OrderID int64  `json:"orderId"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "u-1", res.UserID)
	assert.Equal(t, int64(42), res.OrderID)

	out, err = execute(t, "guest", "show")
	require.NoError(t, err)
	assert.Equal(t, "no guest session\n", out)
}

func TestShowOfflineExitCode(t *testing.T) {
	setupTerminalEnv(t)

	_, err := execute(t, "show", "12", "--user", "u-1")
	require.Error(t, err)
	assert.Equal(t, ExitOffline, GetExitCode(err))

	_, err = execute(t, "show", "x")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueueDeadEmpty(t *testing.T) {
	setupTerminalEnv(t)

	out, err := execute(t, "queue", "dead", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "5.00", formatCents(500))
	assert.Equal(t, "0.07", formatCents(7))
	assert.Equal(t, "-1.50", formatCents(-150))
}
