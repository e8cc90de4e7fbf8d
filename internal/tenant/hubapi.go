package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hub-activity-backend/config"
)

const (
	paginationMediaType = "application/jupyterhub-pagination+json"
	usersPageSize       = 200
)

// apiServer models one entry of a hub user's servers map.
type apiServer struct {
	Name         string     `json:"name"`
	Ready        bool       `json:"ready"`
	Pending      *string    `json:"pending"`
	Started      *time.Time `json:"started"`
	LastActivity *time.Time `json:"last_activity"`
}

// apiUser models the hub's user resource.
type apiUser struct {
	Name         string               `json:"name"`
	Admin        bool                 `json:"admin"`
	LastActivity *time.Time           `json:"last_activity"`
	Servers      map[string]apiServer `json:"servers"`
}

// apiUsersPage models a paginated /users response.
type apiUsersPage struct {
	Items      []apiUser `json:"items"`
	Pagination struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
		Total  int `json:"total"`
		Next   *struct {
			Offset int `json:"offset"`
		} `json:"next"`
	} `json:"_pagination"`
}

func (u apiUser) toTenant() Tenant {
	t := Tenant{
		Name:         u.Name,
		Admin:        u.Admin,
		LastActivity: utc(u.LastActivity),
	}
	if srv, ok := u.Servers[""]; ok {
		la := srv.LastActivity
		if la == nil {
			la = u.LastActivity
		}
		t.Workload = &Workload{
			Active:       srv.Ready,
			LastActivity: utc(la),
			Started:      utc(srv.Started),
		}
	}
	return t
}

// HubAPI is a Directory and Authenticator backed by the hub's REST API.
type HubAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHubAPI creates a client for the hub REST API at cfg.APIURL. The
// service token in cfg.APIToken must be allowed to list users and servers.
func NewHubAPI(cfg config.HubConfig) *HubAPI {
	return &HubAPI{
		baseURL: cfg.APIURL,
		token:   cfg.APIToken,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// List returns every tenant, following the hub's pagination.
func (h *HubAPI) List(ctx context.Context) ([]Tenant, error) {
	var tenants []Tenant
	offset := 0
	for {
		page, err := h.fetchUsersPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		for _, u := range page.Items {
			tenants = append(tenants, u.toTenant())
		}
		if page.Pagination.Next == nil || len(page.Items) == 0 {
			break
		}
		offset = page.Pagination.Next.Offset
	}
	return tenants, nil
}

// Get resolves one tenant by name.
func (h *HubAPI) Get(ctx context.Context, name string) (*Tenant, error) {
	var u apiUser
	if err := h.getJSON(ctx, "/users/"+url.PathEscape(name), h.token, "", &u); err != nil {
		return nil, err
	}
	t := u.toTenant()
	return &t, nil
}

// Authenticate resolves the tenant that owns token.
func (h *HubAPI) Authenticate(ctx context.Context, token string) (*Tenant, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	var u apiUser
	err := h.getJSON(ctx, "/user", token, "", &u)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	t := u.toTenant()
	return &t, nil
}

func (h *HubAPI) fetchUsersPage(ctx context.Context, offset int) (*apiUsersPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(usersPageSize))

	var page apiUsersPage
	if err := h.getJSON(ctx, "/users?"+q.Encode(), h.token, paginationMediaType, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch users at offset %d: %w", offset, err)
	}
	log.Printf("[HubAPI] Fetched %d users at offset %d (total %d)", len(page.Items), offset, page.Pagination.Total)
	return &page, nil
}

func (h *HubAPI) getJSON(ctx context.Context, path, token, accept string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
