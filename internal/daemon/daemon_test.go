package daemon

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/logging"
)

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON}, buf)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Daemon.PIDFile = filepath.Join(t.TempDir(), "netsentry.pid")
	cfg.Daemon.ShutdownTimeout = 2 * time.Second
	cfg.API.Enabled = false
	cfg.Metrics.Enabled = false
	return cfg
}

func mockDB(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db.Wrap(sqlDB), mock
}

func TestNewDaemon(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg, "/etc/netsentry.yaml", nil)

	require.NotNil(t, d)
	assert.Same(t, cfg, d.GetConfig())
	assert.Equal(t, cfg.Daemon.PIDFile, d.pidFile)
	assert.True(t, d.IsRunning())
	assert.Equal(t, []string{"--config", "/etc/netsentry.yaml"}, d.workerArgs())
	assert.NotNil(t, d.GetContext())
}

func TestWorkerArgsWithoutConfigFile(t *testing.T) {
	d := New(testConfig(t), "", nil)
	assert.Nil(t, d.workerArgs())
}

func TestPIDFileHandling(t *testing.T) {
	var buf syncBuffer
	cfg := testConfig(t)
	d := New(cfg, "", testLogger(&buf))

	require.NoError(t, d.createPIDFile())

	content, err := os.ReadFile(cfg.Daemon.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	d.cleanup()
	_, err = os.Stat(cfg.Daemon.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFileRefusesLiveProcess(t *testing.T) {
	sleeper := exec.Command("sleep", "30")
	require.NoError(t, sleeper.Start())
	t.Cleanup(func() {
		_ = sleeper.Process.Kill()
		_ = sleeper.Wait()
	})

	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Daemon.PIDFile, []byte(strconv.Itoa(sleeper.Process.Pid)), DefaultFilePermissions))

	d := New(cfg, "", testLogger(&syncBuffer{}))
	err := d.createPIDFile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestPIDFileReplacesStaleEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "not-a-pid"},
		{"negative", "-4"},
		{"own pid", strconv.Itoa(os.Getpid())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			require.NoError(t, os.WriteFile(cfg.Daemon.PIDFile, []byte(tt.content), DefaultFilePermissions))

			d := New(cfg, "", testLogger(&syncBuffer{}))
			require.NoError(t, d.createPIDFile())

			content, err := os.ReadFile(cfg.Daemon.PIDFile)
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, isProcessRunning(os.Getpid()))
}

func TestWireBuildsComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Enabled = true
	cfg.API.Port = 0
	cfg.Metrics.Enabled = true
	cfg.Schedules = []config.ScheduleConfig{
		{Name: "office", Cron: "0 3 * * *", Target: "10.0.0.0/28", ScanType: config.ScanTypeQuick},
	}

	database, _ := mockDB(t)
	d := New(cfg, "", testLogger(&syncBuffer{}))
	require.NoError(t, d.wire(database))

	assert.NotNil(t, d.orchestrator)
	assert.NotNil(t, d.supervisor)
	assert.NotNil(t, d.service)
	assert.NotNil(t, d.apiServer)
	assert.NotNil(t, d.metrics)
	require.Len(t, d.scheduler.GetJobs(), 1)
	assert.Equal(t, "office", d.scheduler.GetJobs()[0].Name)
}

func TestWireRejectsUnknownSupervisorMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.Mode = "cluster"

	database, _ := mockDB(t)
	d := New(cfg, "", testLogger(&syncBuffer{}))
	err := d.wire(database)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supervisor")
}

func TestRunShutsDownInOrder(t *testing.T) {
	var buf syncBuffer
	cfg := testConfig(t)
	database, mock := mockDB(t)
	mock.ExpectClose()

	d := New(cfg, "", testLogger(&buf))
	require.NoError(t, d.createPIDFile())
	require.NoError(t, d.wire(database))

	errCh := make(chan error, 1)
	go func() { errCh <- d.run() }()

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "Scheduler started")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after Stop")
	}

	assert.False(t, d.IsRunning())
	assert.NoError(t, mock.ExpectationsWereMet())
	_, err := os.Stat(cfg.Daemon.PIDFile)
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, buf.String(), "Scheduler stopped")
}

func TestReloadConfigurationReplacesSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedules = []config.ScheduleConfig{
		{Name: "old", Cron: "0 3 * * *", Target: "10.0.0.1"},
	}
	database, _ := mockDB(t)

	path := filepath.Join(t.TempDir(), "netsentry.yaml")
	d := New(cfg, path, testLogger(&syncBuffer{}))
	require.NoError(t, d.wire(database))

	next := testConfig(t)
	next.Schedules = []config.ScheduleConfig{
		{Name: "lab", Cron: "*/30 * * * *", Target: "192.168.10.0/29", ScanType: config.ScanTypeFull},
		{Name: "dmz", Cron: "15 1 * * 0", Target: "172.16.0.10"},
	}
	require.NoError(t, next.Save(path))

	require.NoError(t, d.reloadConfiguration())
	t.Cleanup(d.currentScheduler().Stop)

	names := make([]string, 0, 2)
	for _, job := range d.currentScheduler().GetJobs() {
		names = append(names, job.Name)
	}
	assert.ElementsMatch(t, []string{"lab", "dmz"}, names)
	assert.Len(t, d.GetConfig().Schedules, 2)
}

func TestReloadConfigurationKeepsScheduleOnInvalidFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedules = []config.ScheduleConfig{
		{Name: "old", Cron: "0 3 * * *", Target: "10.0.0.1"},
	}
	database, _ := mockDB(t)

	path := filepath.Join(t.TempDir(), "netsentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schedules:\n  - cron: \"not a cron\"\n    target: 10.0.0.1\n"), 0o600))

	d := New(cfg, path, testLogger(&syncBuffer{}))
	require.NoError(t, d.wire(database))
	before := d.currentScheduler()

	require.Error(t, d.reloadConfiguration())
	assert.Same(t, before, d.currentScheduler())
}

func TestDumpStatus(t *testing.T) {
	var buf syncBuffer
	cfg := testConfig(t)
	database, _ := mockDB(t)

	d := New(cfg, "", testLogger(&buf))
	require.NoError(t, d.wire(database))

	d.dumpStatus()
	out := buf.String()
	assert.Contains(t, out, "Daemon status")
	assert.Contains(t, out, `"api":"disabled"`)
	assert.Contains(t, out, `"active_scans":0`)
	assert.Contains(t, out, `"held_slots":0`)
	assert.Contains(t, out, `"available_slots":`)
}
