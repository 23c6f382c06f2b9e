package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sourceline/internal/config"
	"sourceline/internal/db"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/migrate"
	"sourceline/internal/transport"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DevLogin: true},
		Twilio: transport.TwilioConfig{
			AccountSID:  "AC123",
			AuthToken:   "tok",
			From:        "whatsapp:+14155238886",
			VerifyToken: "hook-token",
		},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

var asTester = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func requireError(t *testing.T, res *http.Response, data []byte, status int, code string) errorEnvelope {
	t.Helper()
	require.Equal(t, status, res.StatusCode, string(data))
	env := decode[errorEnvelope](t, data)
	require.Equal(t, code, env.Error.Code, string(data))
	return env
}

func createProject(t *testing.T, srv *testServer) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"idea": "Insulated steel water bottle with a leak-proof lid",
	}, asTester)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[domain.Project](t, data)
}

func addSupplier(t *testing.T, srv *testServer, projectID string, body map[string]any) domain.Supplier {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/suppliers", body, asTester)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[SupplierResponse](t, data).Supplier
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	requireError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(data), "bearerAuth")
	require.Contains(t, string(data), "OutreachFailure")
	require.Contains(t, string(data), "FollowupFailure")
}

func TestProjectLifecycle(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv)
	require.NotEmpty(t, p.ID)
	require.NotEmpty(t, p.Checklist)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, decode[[]domain.Project](t, data), 1)

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/projects/"+p.ID+"/modules/discovery", map[string]any{
		"status": "in_progress",
	}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Equal(t, domain.ChecklistInProgress, decode[domain.Project](t, data).ModuleStatus["discovery"])

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/checklist/nope/validate", map[string]any{}, asTester)
	env := requireError(t, res, data, http.StatusBadRequest, "bad_request")
	require.Equal(t, "key", env.Error.Details["field"])

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/projects/"+p.ID, nil, asTester)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID, nil, asTester)
	requireError(t, res, data, http.StatusNotFound, "not_found")
}

func TestErrorTaxonomy(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv)
	base := srv.URL + "/v0/projects/" + p.ID

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/award", map[string]any{}, asTester)
	requireError(t, res, data, http.StatusUnprocessableEntity, "precondition_failed")

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/replies", map[string]any{
		"supplier_id": "missing",
		"text":        "Unit price is $12",
	}, asTester)
	requireError(t, res, data, http.StatusNotFound, "not_found")

	addSupplier(t, srv, p.ID, map[string]any{"name": "Acme Works", "email": "sales@acme.test"})
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/outreach/prepare", map[string]any{}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/outreach/send", nil, asTester)
	env := requireError(t, res, data, http.StatusServiceUnavailable, "dependency_unconfigured")
	require.Equal(t, "SMTP", env.Error.Details["dependency"])

	res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/followups/policy", map[string]any{
		"max_follow_ups": -1,
	}, asTester)
	requireError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestReplyNegotiationAndAward(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv)
	base := srv.URL + "/v0/projects/" + p.ID

	a := addSupplier(t, srv, p.ID, map[string]any{"name": "Shenzhen Metal", "email": "sales@szmetal.test", "country": "China", "distance_complexity": "high"})
	addSupplier(t, srv, p.ID, map[string]any{
		"name": "Ohio Fab", "country": "United States", "distance_complexity": "low",
		"unit_price": 10.6, "moq": 300, "lead_time_days": 16,
	})

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/replies", map[string]any{
		"supplier_id": a.ID,
		"text":        "Unit price is $8.90, MOQ 1000 units, lead time 4 weeks, tooling is $2500.",
	}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	replies := decode[engine.ReplyResult](t, data)
	require.Len(t, replies.Ingested, 1)
	price, ok := domain.Value(replies.Ingested[0].Parsed.UnitPrice)
	require.True(t, ok)
	require.InDelta(t, 8.9, price, 1e-9)

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/negotiations", map[string]any{
		"supplier_id":       a.ID,
		"target_unit_price": 7.5,
	}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	round := decode[engine.NegotiationResult](t, data)
	require.Equal(t, 1, round.Round)
	require.Equal(t, domain.DefaultDeliveryDraftOnly, round.Delivery.Status)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, base+"/award/packet.pdf", nil, asTester)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/award", map[string]any{"auto_select": true}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	awarded := decode[AwardResponse](t, data)
	require.Len(t, awarded.Decision.Ranking, 2)
	require.NotEmpty(t, awarded.Decision.RecommendedSupplierID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/award/packet.pdf", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/pdf", res.Header.Get("Content-Type"))
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/award/ranking.xlsx", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, bytes.HasPrefix(data, []byte("PK")))

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/metrics", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.True(t, decode[domain.OutcomeMetrics](t, data).Funnel.AwardRecommended)
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv)
	addSupplier(t, srv, p.ID, map[string]any{"name": "One"})
	addSupplier(t, srv, p.ID, map[string]any{"name": "Two"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/events?limit=2", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	first := decode[EventPage](t, data)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	require.Greater(t, first.Items[0].ID, first.Items[1].ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/events?limit=2&cursor="+first.NextCursor, nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	second := decode[EventPage](t, data)
	require.NotEmpty(t, second.Items)
	require.Less(t, second.Items[0].ID, first.Items[1].ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/events?cursor=abc", nil, asTester)
	requireError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestTokenAndAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "buyer-1"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token := decode[DevLoginResponse](t, data).Token
	require.NotEmpty(t, token)

	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Equal(t, WhoAmIResponse{ActorID: "buyer-1", Source: "jwt"}, decode[WhoAmIResponse](t, data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"name": "ci"}, bearer)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[APIKeyCreatedResponse](t, data)
	require.True(t, strings.HasPrefix(created.Key, "sl_"))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": created.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Equal(t, "api_key", decode[WhoAmIResponse](t, data).Source)

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/api-keys/"+created.ID, nil, map[string]string{"X-Actor-Id": "someone-else"})
	requireError(t, res, data, http.StatusNotFound, "not_found")
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/api-keys/"+created.ID, nil, bearer)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": created.Key})
	requireError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	forged, err := SignToken("other-secret", "buyer-1", time.Hour, time.Now())
	require.NoError(t, err)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	requireError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	expired, err := SignToken(testSecret, "buyer-1", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + expired})
	requireError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func postForm(t *testing.T, client *http.Client, target string, form url.Values) *http.Response {
	t.Helper()
	res, err := client.PostForm(target, form)
	require.NoError(t, err)
	res.Body.Close()
	return res
}

func TestWhatsAppWebhookQueuesMessage(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/projects/"+p.ID+"/sourcing/brief", map[string]any{
		"search_term": "turmeric powder",
		"location":    "Erode",
	}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	s := addSupplier(t, srv, p.ID, map[string]any{
		"lifecycle": "sourcing",
		"name":      "Erode Spices",
		"phone":     "9876543210",
	})

	hook := srv.URL + "/v0/webhooks/twilio/whatsapp"
	form := url.Values{
		"From":       {"whatsapp:+919876543210"},
		"To":         {"whatsapp:+14155238886"},
		"Body":       {"Price: INR 120/kg, MOQ: 2 tons, delivery in 10 days."},
		"MessageSid": {"SM900"},
	}
	require.Equal(t, http.StatusUnauthorized, postForm(t, srv.Client(), hook, form).StatusCode)

	form.Set("token", "hook-token")
	require.Equal(t, http.StatusOK, postForm(t, srv.Client(), hook, form).StatusCode)
	require.Equal(t, http.StatusOK, postForm(t, srv.Client(), hook, form).StatusCode)

	unknown := url.Values{"From": {"whatsapp:+15550001111"}, "Body": {"hello"}, "MessageSid": {"SM901"}, "token": {"hook-token"}}
	require.Equal(t, http.StatusOK, postForm(t, srv.Client(), hook, unknown).StatusCode)

	got, err := srv.Engine.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, got.Sourcing.InboxQueue, 1)
	require.Equal(t, s.ID, got.Sourcing.InboxQueue[0].SupplierID)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/sourcing/replies/sync", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	synced := decode[engine.SyncResult](t, data)
	require.Len(t, synced.Ingested, 1)
	price, ok := domain.Value(synced.Ingested[0].Parsed.UnitPriceINRPerKg)
	require.True(t, ok)
	require.InDelta(t, 120, price, 1e-9)
}

type capture struct {
	mu      sync.Mutex
	types   []string
	headers []http.Header
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var evt webhookEvent
	_ = json.NewDecoder(r.Body).Decode(&evt)
	c.mu.Lock()
	c.types = append(c.types, evt.Type)
	c.headers = append(c.headers, r.Header.Clone())
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestDispatcherPostsMatchingEvents(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv)

	var got capture
	sink := httptest.NewServer(&got)
	defer sink.Close()

	d := NewDispatcher(srv.Engine.Repo, []config.Webhook{
		{URL: sink.URL, Events: []string{"supplier.added"}, Secret: "s3"},
	}, nil)
	d.DispatchOnce(context.Background())

	p := createProject(t, srv)
	addSupplier(t, srv, p.ID, map[string]any{"name": "Acme Works"})
	d.DispatchOnce(context.Background())
	d.DispatchOnce(context.Background())

	got.mu.Lock()
	defer got.mu.Unlock()
	require.Equal(t, []string{"supplier.added"}, got.types)
	require.Equal(t, "s3", got.headers[0].Get("X-Sourceline-Secret"))
	require.Equal(t, p.ID, got.headers[0].Get("X-Sourceline-Project"))
}
