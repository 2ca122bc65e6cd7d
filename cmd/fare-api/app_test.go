package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/SoloFlyer/FareWatch/internal/services/searches"
	"github.com/SoloFlyer/FareWatch/internal/storage/pgsearch"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (r *fakeRepo) CreateUser(_ context.Context, in models.UserCreateInput) (*models.User, error) {
	return &models.User{ID: 1, Email: in.Email}, nil
}
func (r *fakeRepo) GetUserByEmail(_ context.Context, _ string) (*models.User, error) {
	return nil, nil
}
func (r *fakeRepo) GetUserByID(_ context.Context, _ uint64) (*models.User, error) {
	return nil, nil
}
func (r *fakeRepo) CreateSearchRequest(_ context.Context, _ models.SearchRequestCreateInput) (*models.SearchRequest, error) {
	return &models.SearchRequest{}, nil
}
func (r *fakeRepo) GetSearchRequestsByIDs(_ context.Context, _ []uint64) ([]*models.SearchRequest, error) {
	return []*models.SearchRequest{}, nil
}
func (r *fakeRepo) ListSearchRequestsByUser(_ context.Context, _ uint64) ([]*models.SearchRequest, error) {
	return []*models.SearchRequest{}, nil
}
func (r *fakeRepo) UpdateSearchRequest(_ context.Context, _ *models.SearchRequest) error { return nil }
func (r *fakeRepo) DeleteSearchRequest(_ context.Context, _, _ uint64) (bool, error) {
	return false, nil
}
func (r *fakeRepo) GetPriceRecord(_ context.Context, _ uint64) (*models.PriceRecord, error) {
	return nil, nil
}
func (r *fakeRepo) ApplyPriceUpdate(_ context.Context, _ pgsearch.PriceUpdate) error { return nil }
func (r *fakeRepo) ResetPriceRecord(_ context.Context, _ uint64) error               { return nil }

func TestRunFareAPI_ServesHealthAndSwagger(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := searches.New(&fakeRepo{}, nil, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- runFareAPI(ctx, fareAPIOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
		}, svc)
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server to listen")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp2, err := http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, 200, resp2.StatusCode)
	body, _ := io.ReadAll(resp2.Body)
	require.Contains(t, string(body), "\"swagger\"")

	// Unknown user comes back as 404 through the whole stack.
	resp3, err := http.Get("http://" + addr + "/api/v1/users/42")
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, 404, resp3.StatusCode)

	cancel()
	select {
	case <-srvErr:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunFareAPI_RequiresSwaggerPath(t *testing.T) {
	svc := searches.New(&fakeRepo{}, nil, nil, time.Minute)
	err := runFareAPI(context.Background(), fareAPIOpts{httpAddr: "127.0.0.1:0"}, svc)
	require.ErrorContains(t, err, "swaggerPath")
}
