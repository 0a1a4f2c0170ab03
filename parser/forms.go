package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoLoginForm is returned when a page has no form with a password input.
var ErrNoLoginForm = errors.New("login form not found")

// LoginForm is a login form discovered on a page, with its default values.
type LoginForm struct {
	Action        *url.URL
	Method        string
	Fields        url.Values
	UsernameField string
	PasswordField string
}

var usernameHint = regexp.MustCompile(`(?i)user|login|email|mail|name`)

// DiscoverLoginForm finds the first form that contains a password input and
// collects every named field with its default value. Only the username and
// password slots are identified; all other names are taken from the markup.
func DiscoverLoginForm(raw []byte, pageURL *url.URL) (*LoginForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse login html: %w", err)
	}

	form := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("input[type=password]").Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil, ErrNoLoginForm
	}

	action, err := pageURL.Parse(strings.TrimSpace(form.AttrOr("action", "")))
	if err != nil {
		return nil, fmt.Errorf("login form action: %w", err)
	}
	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodPost)))
	if method != http.MethodGet {
		method = http.MethodPost
	}

	lf := &LoginForm{
		Action: action,
		Method: method,
		Fields: url.Values{},
	}

	var textFields []string
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		value := input.AttrOr("value", "")
		switch strings.ToLower(input.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
		case "checkbox", "radio":
			if _, checked := input.Attr("checked"); checked {
				lf.Fields.Add(name, valueOr(value, "on"))
			}
		case "password":
			if lf.PasswordField == "" {
				lf.PasswordField = name
			}
		case "", "text", "email", "tel":
			textFields = append(textFields, name)
			lf.Fields.Set(name, value)
		default:
			lf.Fields.Add(name, value)
		}
	})

	form.Find("select[name]").Each(func(_ int, sel *goquery.Selection) {
		option := sel.Find("option[selected]").First()
		if option.Length() == 0 {
			option = sel.Find("option").First()
		}
		lf.Fields.Set(sel.AttrOr("name", ""), option.AttrOr("value", NormalizeText(option.Text())))
	})
	form.Find("textarea[name]").Each(func(_ int, ta *goquery.Selection) {
		lf.Fields.Set(ta.AttrOr("name", ""), ta.Text())
	})

	lf.UsernameField = pickUsernameField(textFields)
	if lf.UsernameField == "" {
		return nil, fmt.Errorf("%w: no username input next to the password input", ErrNoLoginForm)
	}
	return lf, nil
}

// Fill returns the form values with the credentials injected.
func (lf *LoginForm) Fill(username, password string) url.Values {
	values := url.Values{}
	for name, vals := range lf.Fields {
		values[name] = append([]string(nil), vals...)
	}
	values.Set(lf.UsernameField, username)
	values.Set(lf.PasswordField, password)
	return values
}

func pickUsernameField(names []string) string {
	for _, name := range names {
		if usernameHint.MatchString(name) {
			return name
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
