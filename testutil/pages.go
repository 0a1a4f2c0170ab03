// Package testutil builds marketplace pages and mock transports for tests.
package testutil

import (
	"fmt"
	"html"
	"strings"

	"github.com/jarcoal/httpmock"
)

// Row is one listing row. An empty ID renders a row without an id cell.
type Row struct {
	ID     string
	Date   string
	User   string
	Status string
	Total  string
}

// ListingPage renders a listing page the way the marketplace lays it out.
func ListingPage(rows []Row, hasNext bool) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Orders</title></head><body>")
	b.WriteString(`<nav><a href="/en/Magic/PostGetAction/User_Logout">Logout</a></nav>`)
	b.WriteString(`<div class="table table-striped"><div class="table-header"><div class="row"><div class="col-date">Date</div></div></div>`)
	b.WriteString(`<div class="table-body">`)
	for _, r := range rows {
		b.WriteString(`<div class="row">`)
		if r.ID != "" {
			fmt.Fprintf(&b, `<div class="col-orderId"><a href="/en/Magic/Orders/%s">%s</a></div>`, html.EscapeString(r.ID), html.EscapeString(r.ID))
		}
		fmt.Fprintf(&b, `<div class="col-date">%s</div>`, html.EscapeString(r.Date))
		fmt.Fprintf(&b, `<div class="col-user"><span>%s</span></div>`, html.EscapeString(r.User))
		fmt.Fprintf(&b, `<div class="col-status">%s</div>`, html.EscapeString(r.Status))
		fmt.Fprintf(&b, `<div class="col-total">%s</div>`, html.EscapeString(r.Total))
		b.WriteString("</div>")
	}
	b.WriteString("</div></div>")
	if hasNext {
		b.WriteString(`<a aria-label="Next Page" href="?site=next">Next</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// EmptyListingPage is a logged-in page without a listing container.
func EmptyListingPage() string {
	return `<html><body><a href="/en/Magic/PostGetAction/User_Logout">Logout</a><p>No orders found.</p></body></html>`
}

// LoginWall is what the marketplace serves with HTTP 200 to an anonymous client.
func LoginWall() string {
	return `<html><head><title>Cardmarket</title></head><body>
<form action="/en/Magic/PostGetAction/User_Login" method="post">
<input type="hidden" name="__cmtkn" value="tok123">
<input type="hidden" name="referalPage" value="/en/Magic">
<input type="text" name="username" placeholder="Username">
<input type="password" name="userPassword">
<input type="checkbox" name="rememberMe" checked>
<input type="submit" value="Log in">
</form></body></html>`
}

// ChallengePage mimics a bot-mitigation interstitial.
func ChallengePage() string {
	return `<html><head><title>Attention Required! | Cloudflare</title></head><body><div id="cf-challenge-running"></div></body></html>`
}

// WithCaptchaWidget embeds an ordinary reCAPTCHA widget, such as a
// newsletter sign-up box, into page.
func WithCaptchaWidget(page string) string {
	widget := `<form action="/en/Newsletter"><div class="g-recaptcha" data-sitekey="6Lc-site-key"></div></form>`
	return strings.Replace(page, "</body>", widget+"</body>", 1)
}

// HTMLResponder answers with an HTML body and status.
func HTMLResponder(status int, body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}
