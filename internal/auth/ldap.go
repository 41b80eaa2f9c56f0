package auth

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	log "github.com/sirupsen/logrus"
)

// LDAP authenticates by binding as the user. A service account bind
// locates the entry first; the user's own bind proves the password.
type LDAP struct {
	URI          string
	BaseDN       string
	BindDN       string
	BindPassword string

	UsernameAttribute string
	EmailAttribute    string
	FullnameAttribute string

	// Dial is swappable for tests.
	Dial func(uri string) (ldap.Client, error)
}

// NewLDAP builds an LDAP backend with production dialing and the common
// attribute defaults.
func NewLDAP(uri, baseDN, bindDN, bindPassword string) *LDAP {
	return &LDAP{
		URI:               uri,
		BaseDN:            baseDN,
		BindDN:            bindDN,
		BindPassword:      bindPassword,
		UsernameAttribute: "uid",
		EmailAttribute:    "mail",
		FullnameAttribute: "cn",
		Dial: func(uri string) (ldap.Client, error) {
			return ldap.DialURL(uri)
		},
	}
}

// Authenticate implements Authenticator.
func (l *LDAP) Authenticate(_ context.Context, login, password string) (*Identity, error) {
	conn, errDial := l.Dial(l.URI)
	if errDial != nil {
		return nil, fmt.Errorf("auth: ldap dial %s: %w", l.URI, errDial)
	}
	defer conn.Close()

	if l.BindDN != "" {
		if errBind := conn.Bind(l.BindDN, l.BindPassword); errBind != nil {
			return nil, fmt.Errorf("auth: ldap service bind: %w", errBind)
		}
	}

	request := ldap.NewSearchRequest(
		l.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 10, false,
		fmt.Sprintf("(%s=%s)", l.UsernameAttribute, ldap.EscapeFilter(login)),
		[]string{l.UsernameAttribute, l.EmailAttribute, l.FullnameAttribute},
		nil,
	)
	result, errSearch := conn.Search(request)
	if errSearch != nil {
		return nil, fmt.Errorf("auth: ldap search: %w", errSearch)
	}
	if len(result.Entries) != 1 {
		return nil, ErrInvalidCredentials
	}
	entry := result.Entries[0]

	if errBind := conn.Bind(entry.DN, password); errBind != nil {
		log.Debugf("ldap bind rejected for %s", login)
		return nil, ErrInvalidCredentials
	}
	username := entry.GetAttributeValue(l.UsernameAttribute)
	if username == "" {
		username = login
	}
	return &Identity{
		Username: username,
		Email:    entry.GetAttributeValue(l.EmailAttribute),
		Fullname: entry.GetAttributeValue(l.FullnameAttribute),
	}, nil
}
