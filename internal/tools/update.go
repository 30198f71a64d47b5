package tools

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2/clientcredentials"
)

// updateManifest is the signed manifest fetched before an mcp_self_build
// "update" action runs the update script; the script runs only after a
// manifest signed with the configured key has been fetched. The "install"
// action fetches no manifest, and the manifest version is not compared with
// the running version.
type updateManifest struct {
	Version   string `json:"version"`
	ScriptURL string `json:"scriptUrl"`
	Signature string `json:"signature"`
	AutoStart bool   `json:"autoStart"`
}

// signedPayload is what Signature is computed over: the update script's
// identity and version, never the running configuration, so a compromised
// manifest server cannot smuggle arbitrary extra fields into the signed set.
func (m *updateManifest) signedPayload() []byte {
	return []byte(m.Version + "|" + m.ScriptURL)
}

// verify checks Signature (base64 ed25519) against publicKey (base64
// ed25519, 32 bytes). Returns an error on any malformed or invalid signature
// so a caller never acts on an unverified manifest.
func (m *updateManifest) verify(publicKey string) error {
	if publicKey == "" {
		return fmt.Errorf("no update public key configured")
	}
	pubBytes, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("update public key must be %d bytes, base64-encoded", ed25519.PublicKeySize)
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("manifest signature is malformed")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), m.signedPayload(), sig) {
		return fmt.Errorf("manifest signature verification failed")
	}
	return nil
}

// fetchUpdateManifest uses a client-credentials grant (from the same oauth2
// library the teacher's integration.OAuthHandler uses for its PKCE login, but
// a different flow, here for service-to-service auth against a private update
// server) to fetch the manifest, then verifies its ed25519 signature against
// publicKey before returning it. The "update" action runs its script only
// after this succeeds; the script itself is not checked against the
// manifest's scriptUrl.
func fetchUpdateManifest(ctx context.Context, manifestURL, tokenURL, clientID, clientSecret, publicKey string) (*updateManifest, error) {
	if manifestURL == "" || tokenURL == "" {
		return nil, fmt.Errorf("update manifest source not configured")
	}

	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}

	httpClient := conf.Client(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching update manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("update manifest server returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var manifest updateManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing update manifest: %w", err)
	}
	if err := manifest.verify(publicKey); err != nil {
		return nil, fmt.Errorf("rejecting update manifest: %w", err)
	}
	return &manifest, nil
}

func updateConfigFromEnv() (manifestURL, tokenURL, clientID, clientSecret, publicKey string) {
	return os.Getenv("WINBUILDD_UPDATE_MANIFEST_URL"),
		os.Getenv("WINBUILDD_UPDATE_TOKEN_URL"),
		os.Getenv("WINBUILDD_UPDATE_CLIENT_ID"),
		os.Getenv("WINBUILDD_UPDATE_CLIENT_SECRET"),
		os.Getenv("WINBUILDD_UPDATE_PUBLIC_KEY")
}
