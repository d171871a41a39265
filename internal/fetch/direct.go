package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"menfessbot/internal/quota"
	"menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

// DirectFetch is the synchronous path for trivially-sized inputs (direct
// image links). It shares the access policy and the size ceiling with the
// dispatcher but skips job-state tracking, the single-flight set and the
// concurrency gate: there is no unbounded blocking step to guard.
type DirectFetch struct {
	policy  *quota.AccessPolicy
	deliver transport.Deliverer
	client  *http.Client
	ceiling int64
	log     logx.Logger
}

func NewDirectFetch(policy *quota.AccessPolicy, deliver transport.Deliverer, ceiling int64, log logx.Logger) *DirectFetch {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DirectFetch{
		policy:  policy,
		deliver: deliver,
		client:  &http.Client{Timeout: 30 * time.Second},
		ceiling: ceiling,
		log:     log,
	}
}

// Fetch downloads one image URL and delivers it. Accounting mirrors the
// dispatcher: commit + cooldown only after delivery, rollback on any
// failure.
func (d *DirectFetch) Fetch(ctx context.Context, userID int64, rawURL string, reply transport.ChatTarget) error {
	res, err := d.policy.Decide(ctx, userID, quota.CategoryFetch)
	if err != nil {
		return err
	}
	if err := d.download(ctx, rawURL, reply); err != nil {
		d.policy.Abort(context.WithoutCancel(ctx), res)
		return err
	}
	if err := d.policy.Finish(ctx, res); err != nil {
		d.log.Error("cooldown mark failed after direct delivery", logx.Err(err))
	}
	return nil
}

func (d *DirectFetch) download(ctx context.Context, rawURL string, reply transport.ChatTarget) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("direct fetch failed", logx.String("url", rawURL), logx.Err(err))
		return ErrFetchFailed
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.log.Warn("direct fetch bad status",
			logx.String("url", rawURL), logx.Int("status", resp.StatusCode))
		return ErrFetchFailed
	}
	// Pre-check against the declared length; servers may omit or lie, so
	// the byte count is re-checked after reading.
	if resp.ContentLength > d.ceiling {
		return &OversizedError{Size: resp.ContentLength, Ceiling: d.ceiling}
	}

	tmp, err := os.CreateTemp("", "direct-*"+imageExt(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, d.ceiling+1))
	cerr := tmp.Close()
	if err != nil {
		d.log.Warn("direct fetch read failed", logx.String("url", rawURL), logx.Err(err))
		return ErrFetchFailed
	}
	if cerr != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, cerr)
	}
	if n > d.ceiling {
		return &OversizedError{Size: n, Ceiling: d.ceiling}
	}
	if n == 0 {
		return ErrFetchFailed
	}

	if _, err := d.deliver.SendFile(ctx, reply, tmp.Name(), transport.FileImage, rawURL); err != nil {
		d.log.Error("direct delivery failed", logx.String("url", rawURL), logx.Err(err))
		return ErrDeliveryFailed
	}
	return nil
}

func imageExt(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	ext := strings.ToLower(filepath.Ext(u))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return ext
	}
	return ".img"
}
