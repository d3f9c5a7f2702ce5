package r2s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// Cloudflare R2 speaks the S3 protocol with a fixed "auto" region; only the
// subset needed to land trail segments is implemented here.
const (
	signAlgorithm = "AWS4-HMAC-SHA256"
	signRegion    = "auto"
	signService   = "s3"
	signSuffix    = "aws4_request"

	signedHeaderList = "content-type;host;x-amz-content-sha256;x-amz-date"
)

// Client uploads objects into one bucket on an S3-compatible endpoint with
// SigV4 request signing. Safe for concurrent use.
type Client struct {
	base   *url.URL
	bucket string
	keyID  string
	secret string
	hc     *http.Client
}

func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.TrimSpace(bucket)
	accessKeyID = strings.TrimSpace(accessKeyID)
	secretAccessKey = strings.TrimSpace(secretAccessKey)
	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, errors.New("r2: endpoint, bucket and credentials are all required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("r2: bad endpoint %q", endpoint)
	}
	return &Client{
		base:   base,
		bucket: bucket,
		keyID:  accessKeyID,
		secret: secretAccessKey,
		hc:     &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// PutFile uploads one local file under key. The whole payload is hashed up
// front; R2 rejects the request server-side if the body does not match.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return errors.New("r2: unusable object key")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sum, size, err := digest(f)
	if err != nil {
		return err
	}

	req, err := c.signedPut(ctx, key, f, size, sum)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("r2: put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(detail)))
}

// signedPut builds the PUT request and attaches the SigV4 authorization
// header. Content-Type participates in the signature so a proxy cannot
// rewrite it unnoticed.
func (c *Client) signedPut(ctx context.Context, key string, body io.Reader, size int64, payloadHash string) (*http.Request, error) {
	uri := "/" + c.bucket + "/" + encodePath(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base.String()+uri, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size

	now := time.Now().UTC()
	stamp := now.Format("20060102T150405Z")
	day := now.Format("20060102")
	ctype := contentType(key)

	req.Header.Set("Content-Type", ctype)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", stamp)

	canonical := strings.Join([]string{
		http.MethodPut,
		uri,
		"",
		"content-type:" + ctype,
		"host:" + req.URL.Host,
		"x-amz-content-sha256:" + payloadHash,
		"x-amz-date:" + stamp,
		"",
		signedHeaderList,
		payloadHash,
	}, "\n")
	scope := day + "/" + signRegion + "/" + signService + "/" + signSuffix
	toSign := strings.Join([]string{
		signAlgorithm,
		stamp,
		scope,
		hexSHA256([]byte(canonical)),
	}, "\n")
	sig := hex.EncodeToString(mac(c.signingKey(day), []byte(toSign)))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, c.keyID, scope, signedHeaderList, sig))
	return req, nil
}

func (c *Client) signingKey(day string) []byte {
	k := mac([]byte("AWS4"+c.secret), []byte(day))
	for _, part := range []string{signRegion, signService, signSuffix} {
		k = mac(k, []byte(part))
	}
	return k
}

// contentType maps trail segment suffixes; anything unrecognized ships as
// an opaque blob.
func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".jsonl"):
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// digest hashes the full file and rewinds it for the upload body.
func digest(f *os.File) (sum string, size int64, err error) {
	st, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if st.IsDir() {
		return "", 0, fmt.Errorf("r2: %s is a directory", f.Name())
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), st.Size(), nil
}

// cleanKey normalizes slashes and rejects keys that would escape the
// bucket root.
func cleanKey(key string) string {
	key = strings.Trim(strings.ReplaceAll(key, "\\", "/"), "/ \t")
	if key == "" {
		return ""
	}
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || key == "." || strings.HasPrefix(key, "../") {
		return ""
	}
	return key
}

func encodePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func mac(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
