// Package secret hashes short-lived secrets (verification codes) with Argon2id.
//
// Encoded hashes use the PHC-like format
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
// and are treated as untrusted input during Verify.
package secret
