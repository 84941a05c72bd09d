package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sparedes88/projector/pkg/broadcast"
	sig "github.com/sparedes88/projector/pkg/signal"
	"github.com/sparedes88/projector/pkg/store"
)

// session is the console's link to one screen
type session struct {
	ctrl      sig.Controller
	screen    broadcast.Screen
	viewerURL string
	remote    bool
	// done closes when a remote connection drops; nil for embedded
	done <-chan struct{}

	// embedded server, nil when remote
	httpServer *http.Server
	server     *sig.Server
}

func (s *session) Close() {
	if s.ctrl != nil {
		s.ctrl.Close()
	}
	if s.server != nil {
		s.server.Close()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

// startEmbedded runs a memory-backed server on config.Port and controls
// the screen in-process
func startEmbedded(ctx context.Context, config Config, log *zap.Logger) (*session, error) {
	mem := store.NewMemory()
	syncer := broadcast.NewSynchronizer(mem, mem, mem, log)
	server := sig.NewServer(syncer, sig.Options{ControlKey: config.ControlKey, Logger: log})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", config.Port, err)
	}
	httpServer := &http.Server{Handler: server.Handler()}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("embedded server stopped", zap.Error(err))
		}
	}()

	screen, err := openScreen(ctx, syncer, config)
	if err != nil {
		httpServer.Close()
		return nil, err
	}

	ctrl, err := sig.NewLocalControl(ctx, syncer, config.Tenant, screen.ID)
	if err != nil {
		httpServer.Close()
		return nil, err
	}

	base := fmt.Sprintf("http://%s:%d", getLocalIP(), config.Port)
	return &session{
		ctrl:       ctrl,
		screen:     screen,
		viewerURL:  viewerURL(base, config.Tenant, screen.ID),
		httpServer: httpServer,
		server:     server,
	}, nil
}

// openScreen returns the configured screen, or the one named
// config.ScreenName, creating it when needed
func openScreen(ctx context.Context, syncer *broadcast.Synchronizer, config Config) (broadcast.Screen, error) {
	if config.Screen != "" {
		screen, err := syncer.GetScreen(ctx, config.Tenant, config.Screen)
		if err == nil || !errors.Is(err, broadcast.ErrNotFound) {
			return screen, err
		}
	}
	return syncer.EnsureScreen(ctx, config.Tenant, config.ScreenName)
}

// connectRemote resolves the screen over REST and joins it as control
func connectRemote(ctx context.Context, config Config, log *zap.Logger) (*session, error) {
	api := newAPIClient(config.ServerURL, config.ControlKey)

	screen, err := api.openScreen(ctx, config.Tenant, config.Screen, config.ScreenName)
	if err != nil {
		return nil, err
	}

	ctrl, err := sig.DialControl(ctx, config.ServerURL, config.Tenant, screen.ID, config.ControlKey, log)
	if err != nil {
		return nil, err
	}
	lost := make(chan struct{})
	var once sync.Once
	ctrl.SetDisconnectHandler(func() { once.Do(func() { close(lost) }) })

	return &session{
		ctrl:      ctrl,
		screen:    screen,
		viewerURL: viewerURL(config.ServerURL, config.Tenant, screen.ID),
		remote:    true,
		done:      lost,
	}, nil
}

// apiClient talks to the signal server's REST API
type apiClient struct {
	http *resty.Client
}

func newAPIClient(serverURL, key string) *apiClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(serverURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if key != "" {
		client.SetHeader(sig.ControlKeyHeader, key)
	}
	return &apiClient{http: client}
}

// openScreen fetches the screen by code, falling back to get-or-create by name
func (c *apiClient) openScreen(ctx context.Context, tenant, code, name string) (broadcast.Screen, error) {
	if code != "" {
		var frame broadcast.Frame
		var apiErr sig.ErrorBody
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&frame).
			SetError(&apiErr).
			SetPathParams(map[string]string{"tenant": tenant, "screen": broadcast.NormalizeScreenCode(code)}).
			Get("/api/tenants/{tenant}/screens/{screen}")
		if err != nil {
			return broadcast.Screen{}, fmt.Errorf("get screen: %w", err)
		}
		if !resp.IsError() {
			return frame.Screen, nil
		}
		if resp.StatusCode() != http.StatusNotFound {
			return broadcast.Screen{}, fmt.Errorf("get screen: %s (%d)", apiErr.Message, resp.StatusCode())
		}
	}

	var screen broadcast.Screen
	var apiErr sig.ErrorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"name": name, "reuse": true}).
		SetResult(&screen).
		SetError(&apiErr).
		SetPathParam("tenant", tenant).
		Post("/api/tenants/{tenant}/screens")
	if err != nil {
		return broadcast.Screen{}, fmt.Errorf("open screen: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusUnauthorized {
			return broadcast.Screen{}, fmt.Errorf("open screen: %w", sig.ErrUnauthorized)
		}
		return broadcast.Screen{}, fmt.Errorf("open screen: %s (%d)", apiErr.Message, resp.StatusCode())
	}
	return screen, nil
}

func viewerURL(base, tenant, screen string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(tenant) + "/" + screen
}

// audioURL is the viewer page that also plays the microphone
func audioURL(viewer string) string {
	return viewer + "?audio=1"
}

// getLocalIP returns the first non-loopback IPv4 address, or localhost
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "localhost"
}
