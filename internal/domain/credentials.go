package domain

import "strings"

// Credentials are the three opaque session tokens the tracker expects as
// cookies. The engine never inspects or persists them beyond the call.
type Credentials struct {
    XSRFToken          string `json:"xsrfToken"`
    AccountXSRFToken   string `json:"accountXsrfToken"`
    TenantSessionToken string `json:"tenantSessionToken"`
}

// Validate rejects credentials before they reach the adapter. All three
// fields must be present and free of characters that would corrupt the
// Cookie header.
func (c Credentials) Validate() error {
    fields := map[string]string{
        "xsrfToken":          c.XSRFToken,
        "accountXsrfToken":   c.AccountXSRFToken,
        "tenantSessionToken": c.TenantSessionToken,
    }
    for name, v := range fields {
        if strings.TrimSpace(v) == "" {
            return &SyncError{Kind: KindAuthRejected, Err: ErrAuthRejected, Message: "missing credential field " + name}
        }
        if strings.ContainsAny(v, ";,\r\n ") {
            return &SyncError{Kind: KindAuthRejected, Err: ErrAuthRejected, Message: "malformed credential field " + name}
        }
    }
    return nil
}

// CookieHeader renders the Cookie header value the tracker session expects.
func (c Credentials) CookieHeader() string {
    return "atlassian.xsrf.token=" + c.XSRFToken +
        "; atlassian.account.xsrf.token=" + c.AccountXSRFToken +
        "; tenant.session.token=" + c.TenantSessionToken
}
