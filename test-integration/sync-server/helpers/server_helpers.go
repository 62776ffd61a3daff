package helpers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/onsi/gomega"

	syncapp "github.com/decksnap/decksnap-sync/internal/app"
	"github.com/decksnap/decksnap-sync/internal/config"
)

// ServerTestHelper manages one sync server instance
type ServerTestHelper struct {
	ctx        context.Context
	app        *syncapp.SyncApp
	baseURL    string
	httpClient *http.Client
}

// StartServer builds and starts an instance on an ephemeral port
func StartServer(ctx context.Context, cfg *config.Config, factory *SharedFactory) *ServerTestHelper {
	app, err := syncapp.NewSyncApp(ctx,
		syncapp.WithConfig(cfg),
		syncapp.WithAddress("127.0.0.1:0"),
		syncapp.WithStorageFactory(factory),
		syncapp.WithTokenValidator(TokenValidator{}),
		syncapp.WithAuthorizer(AllowAll{}),
	)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	go func() {
		if err := app.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	addrCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addr, err := app.Addr(addrCtx)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	s := &ServerTestHelper{
		ctx:        ctx,
		app:        app,
		baseURL:    "http://" + addr.String(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	s.WaitForServerReady(5 * time.Second)
	return s
}

// StopServer gracefully stops the instance
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits until /readiness answers 200
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/readiness")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// PostImageEvent sends body to the internal image event hook
func (s *ServerTestHelper) PostImageEvent(presentationID, token, body string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost,
		fmt.Sprintf("%s/internal/v1/presentations/%s/image-events", s.baseURL, presentationID),
		strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return s.httpClient.Do(req)
}

// ConnectionCount reports the live sessions of this instance
func (s *ServerTestHelper) ConnectionCount() int {
	return s.app.Components().Rooms.ConnectionCount()
}

// GetBaseURL returns the base URL of the server
func (s *ServerTestHelper) GetBaseURL() string {
	return s.baseURL
}
