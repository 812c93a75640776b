package models

// RelaySession is the value stored in the cache under relay:<token>. It maps
// an opaque relay token back to the real upstream the token holder may reach.
// Sessions expire by cache TTL only; there is no revocation path.
type RelaySession struct {
	ProxyURL string `json:"proxy_url"`
	ProxyID  int64  `json:"proxy_id"`
	Sticky   bool   `json:"sticky"`
}
