package bobsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/utils"
)

// bobClient talks to the HiBob REST API. Auth is Basic with the service
// user id and token. 429 responses are retried with bounded exponential
// backoff; pacing between rows is the orchestrator's job, not the client's.
type bobClient struct {
	baseURL        string
	creds          config.HiBobCredentials
	http           *http.Client
	externalIdPath string
	maxRetries429  int
	backoff429     time.Duration
}

func newBobClient(creds config.HiBobCredentials) (*bobClient, error) {
	if creds.ServiceUserId == "" || creds.Token == "" {
		return nil, &ConfigurationError{Msg: "hibob credentials are empty"}
	}

	baseURL := strings.TrimSpace(os.Getenv("BOB_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.hibob.com"
	}
	externalIdPath := strings.TrimSpace(os.Getenv("BOB_EXTERNAL_ID_PATH"))
	if externalIdPath == "" {
		externalIdPath = "work.employeeIdInCompany"
	}

	backoffMs := utils.IntFromEnv("BOB_429_BACKOFF_MS", 2000)

	return &bobClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		creds:          creds,
		http:           &http.Client{Timeout: 30 * time.Second},
		externalIdPath: externalIdPath,
		maxRetries429:  utils.IntFromEnv("BOB_429_MAX_RETRIES", 3),
		backoff429:     time.Duration(backoffMs) * time.Millisecond,
	}, nil
}

// do issues one request and returns status and body. Transport failures
// come back as TransientNetworkError; HTTP statuses are the caller's to
// classify.
func (c *bobClient) do(ctx context.Context, method string, path string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(c.creds.ServiceUserId, c.creds.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

// doWithBackoff layers the documented 429 handling on top of do: wait,
// retry up to the bound, then give up with a transient error.
func (c *bobClient) doWithBackoff(ctx context.Context, method string, path string, payload any) (int, []byte, error) {
	wait := c.backoff429
	for attempt := 0; ; attempt++ {
		status, body, err := c.do(ctx, method, path, payload)
		if err != nil {
			return status, body, err
		}
		if status != http.StatusTooManyRequests {
			return status, body, nil
		}
		if attempt >= c.maxRetries429 {
			return status, body, &TransientNetworkError{
				StatusCode: status,
				Err:        fmt.Errorf("rate limited after %d retries", c.maxRetries429),
			}
		}
		select {
		case <-ctx.Done():
			return status, body, &TransientNetworkError{StatusCode: status, Err: ctx.Err()}
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// SearchEmployeeByExternalId is the live fallback when the roster snapshot
// has no mapping for an external id. Returns "" when nobody matches.
func (c *bobClient) SearchEmployeeByExternalId(ctx context.Context, externalId string) (string, error) {
	payload := map[string]any{
		"fields": []string{"root.id", c.externalIdPath},
		"filters": []map[string]any{
			{
				"fieldPath": c.externalIdPath,
				"operator":  "equals",
				"values":    []string{externalId},
			},
		},
	}
	status, body, err := c.doWithBackoff(ctx, http.MethodPost, "/v1/people/search", payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &UnexpectedResponseError{StatusCode: status, Body: utils.Truncate(string(body), errorTextLimit)}
	}

	var parsed struct {
		Employees []map[string]any `json:"employees"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Employees) == 0 {
		return "", nil
	}
	return stringifyCell(parsed.Employees[0]["id"]), nil
}

// FetchRoster pulls the active employee roster for the Roster sheet.
func (c *bobClient) FetchRoster(ctx context.Context) ([]EmployeeRecord, error) {
	payload := map[string]any{
		"fields": []string{
			"root.id", c.externalIdPath, "root.displayName",
			"work.site", "work.workLocation", "internal.status",
			"work.employmentType", "work.startDate",
		},
		"humanReadable": "APPEND",
	}
	status, body, err := c.doWithBackoff(ctx, http.MethodPost, "/v1/people/search", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UnexpectedResponseError{StatusCode: status, Body: utils.Truncate(string(body), errorTextLimit)}
	}

	var parsed struct {
		Employees []map[string]any `json:"employees"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	records := make([]EmployeeRecord, 0, len(parsed.Employees))
	for _, emp := range parsed.Employees {
		records = append(records, EmployeeRecord{
			InternalId:     stringifyCell(emp["id"]),
			ExternalId:     fieldValueFromRecord(emp, c.externalIdPath),
			DisplayName:    stringifyCell(emp["displayName"]),
			Site:           fieldValueFromRecord(emp, "work.site"),
			Location:       fieldValueFromRecord(emp, "work.workLocation"),
			Status:         fieldValueFromRecord(emp, "internal.status"),
			EmploymentType: fieldValueFromRecord(emp, "work.employmentType"),
			HireDate:       fieldValueFromRecord(emp, "work.startDate"),
		})
	}
	return records, nil
}

// GetEmployee reads one full record, used for post-write verification.
func (c *bobClient) GetEmployee(ctx context.Context, internalId string) (map[string]any, error) {
	status, body, err := c.doWithBackoff(ctx, http.MethodGet, "/v1/people/"+internalId, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UnexpectedResponseError{StatusCode: status, Body: utils.Truncate(string(body), errorTextLimit)}
	}
	var record map[string]any
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateEmployeeField issues the field update. Status classification is the
// row processor's concern, so non-2xx statuses are returned, not errors.
func (c *bobClient) UpdateEmployeeField(ctx context.Context, internalId string, body map[string]any) (int, []byte, error) {
	return c.doWithBackoff(ctx, http.MethodPut, "/v1/people/"+internalId, body)
}

// FetchFields pulls the field metadata catalogue.
func (c *bobClient) FetchFields(ctx context.Context) ([]FieldDescriptor, error) {
	status, body, err := c.doWithBackoff(ctx, http.MethodGet, "/v1/company/people/fields", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UnexpectedResponseError{StatusCode: status, Body: utils.Truncate(string(body), errorTextLimit)}
	}

	var parsed fieldsMetadataResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	fields := make([]FieldDescriptor, 0, len(parsed))
	for _, f := range parsed {
		fields = append(fields, FieldDescriptor{
			ID:         f.ID,
			Name:       f.Name,
			Path:       f.JsonPath,
			Category:   f.Category,
			Type:       f.Type,
			Calculated: f.Calculated,
			ListName:   f.TypeData.ListName,
		})
	}
	return fields, nil
}

// FetchNamedList pulls one pick-list. Nested values are flattened;
// archived entries are skipped.
func (c *bobClient) FetchNamedList(ctx context.Context, listName string) ([]ListEntry, error) {
	status, body, err := c.doWithBackoff(ctx, http.MethodGet, "/v1/company/named-lists/"+listName, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UnexpectedResponseError{StatusCode: status, Body: utils.Truncate(string(body), errorTextLimit)}
	}

	var parsed namedListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	var entries []ListEntry
	var walk func(values []namedListValue)
	walk = func(values []namedListValue) {
		for _, v := range values {
			if !v.Archived {
				label := v.Value
				if label == "" {
					label = v.Name
				}
				entries = append(entries, ListEntry{
					ListName:   listName,
					ValueId:    v.ID.String(),
					ValueLabel: label,
				})
			}
			walk(v.Children)
		}
	}
	walk(parsed.Values)
	return entries, nil
}

// CreateListItem adds one entry to a named list and returns its new id.
func (c *bobClient) CreateListItem(ctx context.Context, listName string, label string) (string, error) {
	payload := map[string]any{"name": label}
	status, body, err := c.doWithBackoff(ctx, http.MethodPost, "/v1/company/named-lists/"+listName, payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &UnexpectedResponseError{StatusCode: status, Body: utils.Truncate(string(body), errorTextLimit)}
	}

	var parsed struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if parsed.ID.String() == "" {
		return "", errors.New("create list item: response has no id")
	}
	return parsed.ID.String(), nil
}

// FetchHistoryEntries reads one history table of an employee, for
// effective-date duplicate detection and verification.
func (c *bobClient) FetchHistoryEntries(ctx context.Context, internalId string, endpoint string) ([]map[string]any, error) {
	status, body, err := c.doWithBackoff(ctx, http.MethodGet, "/v1/people/"+internalId+"/"+endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UnexpectedResponseError{StatusCode: status, Body: utils.Truncate(string(body), errorTextLimit)}
	}

	var parsed struct {
		Values []map[string]any `json:"values"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Values, nil
}

// InsertHistoryEntry appends one history-table row.
func (c *bobClient) InsertHistoryEntry(ctx context.Context, internalId string, endpoint string, payload map[string]any) (int, []byte, error) {
	return c.doWithBackoff(ctx, http.MethodPost, "/v1/people/"+internalId+"/"+endpoint, payload)
}
