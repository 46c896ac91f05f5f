/*
Package security encrypts small secrets — principally a client's
authToken — at rest in the local store's config bucket, using
AES-256-GCM.

# SecretsManager

SecretsManager wraps a 32-byte AES-256 key and provides authenticated
encryption:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte key

Construct one from a raw key or from a password (hashed via SHA-256):

	key := make([]byte, 32)
	rand.Read(key)
	sm, err := security.NewSecretsManager(key)

	// or
	sm, err := security.NewSecretsManagerFromPassword("local-device-passphrase")

# Encrypting the auth token

EncryptToken/DecryptToken operate on strings and base64-encode the
ciphertext, so the result can be stored directly as a
types.ConfigValue string:

	encoded, err := sm.EncryptToken(authToken)
	store.SetConfigValue("authToken", types.NewConfigString(encoded))

	// later
	cfg, _, _ := store.GetConfigValue("authToken")
	token, err := sm.DecryptToken(cfg.String)

# Key derivation

DeriveKeyFromDeviceID derives a deterministic 32-byte key from a local
device identifier, so the same device always recovers the same key
without storing it separately:

	deviceKey = SHA-256(deviceID)

This is a per-device key, not a cluster-wide secret: each client
encrypts only its own authToken, so there is no shared key to
distribute or rotate across devices.

# Format

Encrypted bytes are [nonce || ciphertext || tag]; EncryptToken/
DecryptToken additionally base64-encode that blob so it round-trips
through a JSON config value cleanly.

# Security notes

  - Never log the raw authToken, the encryption key, or the password
    used to derive it.
  - GCM's authentication tag means a tampered ciphertext fails to
    decrypt rather than silently returning garbage.
*/
package security
