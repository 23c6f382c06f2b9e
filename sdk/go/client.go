package sourcelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sourceline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   30 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Idea         string            `json:"idea"`
	ModuleStatus map[string]string `json:"module_status"`
	Suppliers    []Supplier        `json:"suppliers"`
	Version      int64             `json:"version"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// Supplier represents a manufacturing or ingredient supplier (partial).
type Supplier struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	Country         string   `json:"country,omitempty"`
	Status          string   `json:"status"`
	Selected        bool     `json:"selected"`
	ConfidenceScore float64  `json:"confidence_score"`
	LeadTimeDays    *float64 `json:"lead_time_days"`
	MOQ             *float64 `json:"moq"`
	Pricing         struct {
		UnitPrice *float64 `json:"unit_price"`
		Currency  string   `json:"currency"`
	} `json:"pricing"`
}

// SupplierInput is the body of AddSupplier. Lifecycle is manufacturing or sourcing.
type SupplierInput struct {
	Lifecycle      string   `json:"lifecycle,omitempty"`
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	Country        string   `json:"country,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	WhatsAppNumber string   `json:"whatsapp_number,omitempty"`
	UnitPrice      *float64 `json:"unit_price,omitempty"`
	MOQ            *float64 `json:"moq,omitempty"`
	LeadTimeDays   *float64 `json:"lead_time_days,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Ingested is one parsed supplier reply.
type Ingested struct {
	SupplierID     string `json:"supplier_id"`
	ConversationID string `json:"conversation_id"`
	Parsed         struct {
		UnitPrice         *float64 `json:"unit_price"`
		UnitPriceINRPerKg *float64 `json:"unit_price_inr_per_kg"`
		MOQ               *float64 `json:"moq"`
		LeadTimeDays      *float64 `json:"lead_time_days"`
		Confidence        float64  `json:"confidence"`
	} `json:"parsed"`
	Intervention struct {
		RequiresHuman bool   `json:"requires_human"`
		Reason        string `json:"reason"`
	} `json:"intervention"`
}

type ReplyResult struct {
	Project  Project    `json:"project"`
	Ingested []Ingested `json:"ingested"`
	Fetched  int        `json:"fetched"`
	Matched  int        `json:"matched"`
	Skipped  int        `json:"skipped"`
}

type SendResult struct {
	Project  Project `json:"project"`
	Failures []struct {
		SupplierID string `json:"supplier_id"`
		Reason     string `json:"reason"`
	} `json:"failures"`
}

// NegotiationTarget holds optional counter-offer targets.
type NegotiationTarget struct {
	UnitPrice    *float64 `json:"target_unit_price,omitempty"`
	MOQ          *float64 `json:"target_moq,omitempty"`
	LeadTimeDays *float64 `json:"target_lead_time_days,omitempty"`
}

type NegotiationRound struct {
	Round        int    `json:"round"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	StopDecision struct {
		Stop   bool   `json:"stop"`
		Reason string `json:"reason"`
	} `json:"stop_decision"`
	Delivery struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	} `json:"delivery"`
}

type AwardDecision struct {
	RecommendedSupplierID string `json:"recommended_supplier_id"`
	Ranking               []struct {
		SupplierID   string  `json:"supplier_id"`
		SupplierName string  `json:"supplier_name"`
		TotalScore   float64 `json:"total_score"`
	} `json:"ranking"`
	Rationale []string `json:"rationale"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project from an idea and makes it the client's project.
func (c *Client) CreateProject(ctx context.Context, name, idea string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", map[string]any{"name": name, "idea": idea}, &resp)
	if err == nil {
		c.ProjectID = resp.ID
	}
	return resp, err
}

func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// AddSupplier adds a supplier to the project.
func (c *Client) AddSupplier(ctx context.Context, in SupplierInput) (Supplier, error) {
	var resp struct {
		Supplier Supplier `json:"supplier"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("suppliers"), in, &resp)
	return resp.Supplier, err
}

// PrepareOutreach drafts RFQ emails; no ids means every supplier.
func (c *Client) PrepareOutreach(ctx context.Context, supplierIDs ...string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("outreach/prepare"), idsBody(supplierIDs), &resp)
	return resp, err
}

func (c *Client) SendOutreach(ctx context.Context) (SendResult, error) {
	var resp SendResult
	err := c.do(ctx, http.MethodPost, c.projectPath("outreach/send"), nil, &resp)
	return resp, err
}

// IngestReply records a pasted supplier reply.
func (c *Client) IngestReply(ctx context.Context, supplierID, text string) (ReplyResult, error) {
	var resp ReplyResult
	err := c.do(ctx, http.MethodPost, c.projectPath("replies"), map[string]any{"supplier_id": supplierID, "text": text}, &resp)
	return resp, err
}

func (c *Client) SimulateReplies(ctx context.Context, supplierIDs ...string) (ReplyResult, error) {
	var resp ReplyResult
	err := c.do(ctx, http.MethodPost, c.projectPath("replies/simulate"), idsBody(supplierIDs), &resp)
	return resp, err
}

func (c *Client) SyncInbox(ctx context.Context) (ReplyResult, error) {
	var resp ReplyResult
	err := c.do(ctx, http.MethodPost, c.projectPath("replies/sync"), nil, &resp)
	return resp, err
}

// Negotiate runs one automated round. The message is only delivered when send is true.
func (c *Client) Negotiate(ctx context.Context, supplierID string, target NegotiationTarget, send bool) (NegotiationRound, error) {
	body := map[string]any{"supplier_id": supplierID, "send_message": send}
	if target.UnitPrice != nil {
		body["target_unit_price"] = *target.UnitPrice
	}
	if target.MOQ != nil {
		body["target_moq"] = *target.MOQ
	}
	if target.LeadTimeDays != nil {
		body["target_lead_time_days"] = *target.LeadTimeDays
	}
	var resp NegotiationRound
	err := c.do(ctx, http.MethodPost, c.projectPath("negotiations"), body, &resp)
	return resp, err
}

func (c *Client) RunFollowUps(ctx context.Context) (SendResult, error) {
	var resp SendResult
	err := c.do(ctx, http.MethodPost, c.projectPath("followups/run"), map[string]any{}, &resp)
	return resp, err
}

// RunAwardGate ranks suppliers. With autoSelect the recommendation is selected.
func (c *Client) RunAwardGate(ctx context.Context, autoSelect bool) (AwardDecision, error) {
	var resp struct {
		Decision AwardDecision `json:"decision"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("award"), map[string]any{"auto_select": autoSelect}, &resp)
	return resp.Decision, err
}

// DownloadAwardPacket writes the award packet PDF to w.
func (c *Client) DownloadAwardPacket(ctx context.Context, w io.Writer) error {
	return c.download(ctx, c.projectPath("award/packet.pdf"), w)
}

// DownloadRanking writes the award ranking workbook to w.
func (c *Client) DownloadRanking(ctx context.Context, w io.Writer) error {
	return c.download(ctx, c.projectPath("award/ranking.xlsx"), w)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) request(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.request(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) download(ctx context.Context, endpoint string, w io.Writer) error {
	resp, err := c.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func idsBody(ids []string) map[string]any {
	if len(ids) == 0 {
		return map[string]any{}
	}
	return map[string]any{"supplier_ids": ids}
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
