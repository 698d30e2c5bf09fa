package http

import "encoding/base64"

type Auth struct {
	Key   string
	Value string
}

// Connection describes how to reach one of the two servers the library
// talks to: the mainzelhandler backend or the Mainzelliste itself.
type Connection interface {
	auth() *Auth
	headers() map[string]string
	getUrl() string
	verifyCertificate() bool
}

// ServerConnection is a connection to the backend that hands out tokens and
// stores the MDAT. It authenticates with basic auth if a username is set,
// otherwise with the api key if there is one.
type ServerConnection struct {
	url        string
	verifyCert bool
	apiKey     string
	username   string
	password   string
}

func (c *ServerConnection) auth() *Auth {
	switch {
	case c.username != "" && c.password != "":
		credentials := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
		return &Auth{Key: "Authorization", Value: "Basic " + credentials}
	case c.apiKey != "":
		return &Auth{Key: "Authorization", Value: "X-Mainzelhandler-Api-Key " + c.apiKey}
	}
	return nil
}

func (c *ServerConnection) headers() map[string]string {
	return nil
}

func (c *ServerConnection) getUrl() string {
	return c.url
}

func (c *ServerConnection) verifyCertificate() bool {
	return c.verifyCert
}

// MainzellisteConnection is used for the token URLs handed out by the
// backend. The URLs are absolute and authorize the request themselves, so
// only the api version header is needed.
type MainzellisteConnection struct {
	verifyCert bool
	apiVersion string
}

func (c *MainzellisteConnection) auth() *Auth {
	return nil
}

func (c *MainzellisteConnection) headers() map[string]string {
	return map[string]string{"mainzellisteApiVersion": c.apiVersion}
}

func (c *MainzellisteConnection) getUrl() string {
	return ""
}

func (c *MainzellisteConnection) verifyCertificate() bool {
	return c.verifyCert
}
