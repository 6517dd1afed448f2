// Package api describes the backend contracts the console consumes through
// the proxy. The backend owns the semantics; only the wire shapes live here.
package api

// Backend endpoint paths, relative to the proxy prefix.
const (
	PathAPIKeyAuth    = "/auth/api-key"
	PathOAuthInit     = "/auth/oauth/init"
	PathOAuthCallback = "/auth/oauth/callback"
	PathConnectors    = "/connectors"
	PathToolsInvoke   = "/tools/invoke"
	PathRegistry      = "/registry"
)

// APIKeyAuthRequest is the body of POST /auth/api-key.
type APIKeyAuthRequest struct {
	TenantID string  `json:"tenant_id"`
	Provider string  `json:"provider"`
	APIKey   string  `json:"api_key"`
	Label    *string `json:"label"`
}

type APIKeyAuthResponse struct {
	Message  string `json:"message"`
	Provider string `json:"provider"`
	TenantID string `json:"tenant_id"`
	TokenID  string `json:"token_id"`
}

func (r APIKeyAuthResponse) missing() []string {
	return required("message", r.Message, "provider", r.Provider, "tenant_id", r.TenantID, "token_id", r.TokenID)
}

type Connector struct {
	ID         string         `json:"id"`
	Provider   string         `json:"provider"`
	AuthMethod string         `json:"auth_method"` // "api_key" | "oauth"
	Label      *string        `json:"label,omitempty"`
	Status     string         `json:"status"` // "connected" | "error" | "pending"
	TenantID   string         `json:"tenant_id"`
	Config     map[string]any `json:"config,omitempty"`
}

func (c Connector) missing() []string {
	return required("id", c.ID, "provider", c.Provider, "tenant_id", c.TenantID)
}

type ConnectorList struct {
	Items []Connector `json:"items"`
	Total int         `json:"total"`
}

func (l ConnectorList) missing() []string {
	if l.Items == nil {
		return []string{"items"}
	}
	for _, c := range l.Items {
		if m := c.missing(); len(m) > 0 {
			return prefixed("items[].", m)
		}
	}
	return nil
}

type OAuthInitResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

func (r OAuthInitResponse) missing() []string {
	return required("authorization_url", r.AuthorizationURL, "state", r.State)
}

type OAuthCallbackResponse = APIKeyAuthResponse

type ToolResponse struct {
	Provider string `json:"provider"`
	Tool     string `json:"tool"`
	Result   any    `json:"result"`
}

func (r ToolResponse) missing() []string {
	return required("provider", r.Provider, "tool", r.Tool)
}

type RegistryConnector struct {
	Provider    string         `json:"provider"`
	DisplayName string         `json:"display_name"`
	AuthMethods []string       `json:"auth_methods"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r RegistryConnector) missing() []string {
	return required("provider", r.Provider, "display_name", r.DisplayName)
}

type RegistryList struct {
	Items []RegistryConnector `json:"items"`
	Total int                 `json:"total"`
}

func (l RegistryList) missing() []string {
	if l.Items == nil {
		return []string{"items"}
	}
	for _, c := range l.Items {
		if m := c.missing(); len(m) > 0 {
			return prefixed("items[].", m)
		}
	}
	return nil
}

// required takes name/value pairs and returns the names whose value is empty.
func required(kv ...string) []string {
	var out []string
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			out = append(out, kv[i])
		}
	}
	return out
}

func prefixed(p string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = p + n
	}
	return out
}
