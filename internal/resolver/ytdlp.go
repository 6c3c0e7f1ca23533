package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ytdlpResolver shells out to yt-dlp. Concurrent resolutions of the same url
// are collapsed into one invocation.
type ytdlpResolver struct {
	runner  commandRunner
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

func NewYtdlpResolver(timeout time.Duration, logger *slog.Logger) *ytdlpResolver {
	return &ytdlpResolver{
		runner:  execRunner,
		timeout: timeout,
		logger:  logger,
	}
}

func (r *ytdlpResolver) Resolve(ctx context.Context, url string) (Media, error) {
	if IsDirectLink(url) {
		return Media{Url: url}, nil
	}

	result, err, _ := r.group.Do(url, func() (any, error) {
		// the invocation is shared between callers, so the first caller
		// hanging up must not cancel it for the rest
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if media, err := r.resolveSimple(ctx, url); err == nil {
			return media, nil
		} else {
			r.logger.InfoContext(ctx, "simple strategy failed", "url", url, "error", err)
		}

		media, err := r.resolveImpersonated(ctx, url)
		if err != nil {
			r.logger.InfoContext(ctx, "impersonated strategy failed", "url", url, "error", err)
			return Media{}, ErrUnresolvable
		}

		return media, nil
	})
	if err != nil {
		return Media{}, err
	}

	return result.(Media), nil
}

// resolveSimple asks yt-dlp for the bare media url.
func (r *ytdlpResolver) resolveSimple(ctx context.Context, url string) (Media, error) {
	out, err := r.runner(ctx, "yt-dlp", "-g", "--no-check-certificates", "--no-warnings", url)
	if err != nil {
		return Media{}, fmt.Errorf("failed to run yt-dlp: %w", err)
	}

	resolved := strings.TrimSpace(string(out))
	if i := strings.IndexByte(resolved, '\n'); i >= 0 {
		resolved = resolved[:i]
	}
	if !strings.HasPrefix(resolved, "http") {
		return Media{}, fmt.Errorf("yt-dlp returned no usable url")
	}

	return Media{Url: resolved}, nil
}

type ytdlpInfo struct {
	Url         string `json:"url"`
	HttpHeaders struct {
		Referer string `json:"Referer"`
	} `json:"http_headers"`
	Formats []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	Url    string `json:"url"`
	Vcodec string `json:"vcodec"`
	Acodec string `json:"acodec"`
}

// resolveImpersonated retries with browser impersonation and picks the best
// combined format from the full metadata dump.
func (r *ytdlpResolver) resolveImpersonated(ctx context.Context, url string) (Media, error) {
	out, err := r.runner(ctx, "yt-dlp",
		"--dump-single-json",
		"--impersonate", "chrome",
		"--extractor-args", "generic:impersonate",
		"--no-check-certificates",
		"--no-warnings",
		url,
	)
	if err != nil {
		return Media{}, fmt.Errorf("failed to run yt-dlp: %w", err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return Media{}, fmt.Errorf("failed to unmarshal yt-dlp output: %w", err)
	}

	if info.Url != "" {
		return Media{Url: info.Url, Referer: info.HttpHeaders.Referer}, nil
	}

	if len(info.Formats) > 0 {
		best := info.Formats[len(info.Formats)-1]
		for _, f := range info.Formats {
			if f.Vcodec != "none" && f.Acodec != "none" {
				best = f
				break
			}
		}

		return Media{Url: best.Url, Referer: info.HttpHeaders.Referer}, nil
	}

	return Media{}, fmt.Errorf("yt-dlp returned no formats")
}
