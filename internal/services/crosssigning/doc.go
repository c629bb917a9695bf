// Package crosssigning creates and publishes the three-key signing
// hierarchy (master, self-signing, user-signing) and answers status
// queries about where its key material lives.
package crosssigning
