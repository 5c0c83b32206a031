package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"
	"go.uber.org/zap/zaptest"
)

func TestParseEngine(t *testing.T) {
	for _, name := range []string{"chromium", "firefox", "webkit"} {
		e, err := ParseEngine(name)
		require.NoError(t, err)
		assert.Equal(t, Engine(name), e)
	}

	_, err := ParseEngine("netscape")
	require.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("selenium", zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestRodDriverDescribesItself(t *testing.T) {
	d, err := Open(DriverRod, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, DriverRod, d.Name())
	assert.Equal(t, Capabilities{}, d.Capabilities())
	assert.Equal(t, CDPEndpoint, d.DefaultEndpoint())
}

func TestRodDriverRejectsUnsupportedEngines(t *testing.T) {
	d := NewRod(zaptest.NewLogger(t))

	_, err := d.Launch(context.Background(), LaunchOptions{Engine: Firefox})
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = d.Launch(context.Background(), LaunchOptions{Engine: Chromium, Channel: "msedge"})
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = d.Connect(context.Background(), "ws://127.0.0.1:1", ConnectOptions{Engine: WebKit})
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestRodContextRejectsVideo(t *testing.T) {
	b := &rodBrowser{}
	_, err := b.NewContext(context.Background(), ContextOptions{RecordVideoDir: t.TempDir()})
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestRemoteObjectsText(t *testing.T) {
	args := []*proto.RuntimeRemoteObject{
		{Type: proto.RuntimeRemoteObjectTypeString, Value: gson.New("hello")},
		{Type: proto.RuntimeRemoteObjectTypeNumber, Value: gson.New(42)},
		{Type: proto.RuntimeRemoteObjectTypeObject, Description: "Window"},
	}
	assert.Equal(t, "hello 42 Window", remoteObjectsText(args))
}

func TestMillis(t *testing.T) {
	assert.Equal(t, 100.0, millis(100*time.Millisecond))
	assert.Equal(t, 1500.0, millis(1500*time.Millisecond))
}

func TestFindPackageManagerPrefersFirstOnPath(t *testing.T) {
	onPath := map[string]string{"yum": "/usr/bin/yum", "apk": "/sbin/apk"}
	lookPath := func(name string) (string, error) {
		if p, ok := onPath[name]; ok {
			return p, nil
		}
		return "", errors.New("not found")
	}

	pm, path, ok := findPackageManager(lookPath)
	require.True(t, ok)
	assert.Equal(t, "yum", pm.bin)
	assert.Equal(t, "/usr/bin/yum", path)
	assert.Contains(t, pm.packages, "nss")
}

func TestFindPackageManagerNone(t *testing.T) {
	_, _, ok := findPackageManager(func(string) (string, error) { return "", errors.New("not found") })
	assert.False(t, ok)
}

func TestInstallUnknownDriver(t *testing.T) {
	err := Install(context.Background(), "selenium")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selenium")
}
