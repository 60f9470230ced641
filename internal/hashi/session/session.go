// Package session owns the sender → provider binding state.
//
// Two pieces of state live here with different lifetimes:
//
//   - the persisted Session records (provider name + credential digest),
//     serialized wholesale to a JSON file after every successful bind;
//   - the live plaintext credentials, held in process memory only and used
//     for forwarded completions. They do not survive a restart; a bound
//     sender whose live credential is gone must re-bind.
package session

// Session is one sender's bound state. Provider and Key are always set
// together; a sender with no Session record is unbound.
type Session struct {
	// AI is the bound provider name.
	AI string `json:"ai"`
	// Key is the sha256 hex digest of the bound credential, never the
	// plaintext.
	Key string `json:"key"`
}
