package mlfilter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
	"github.com/scan-io-git/scanguard/pkg/shared/files"
)

// BuiltinModel selects the model compiled into the binary.
const BuiltinModel = "builtin"

// Loader fetches model artifacts from a local path, an http(s) URL or an s3://bucket/key location.
type Loader struct {
	logger     hclog.Logger
	fs         afero.Fs
	httpClient *resty.Client

	// newDownloader is swapped in tests.
	newDownloader func() (s3manageriface.DownloaderAPI, error)
}

// NewLoader creates a loader. httpClient may be nil when remote models are not used.
func NewLoader(logger hclog.Logger, fs afero.Fs, httpClient *resty.Client) *Loader {
	return &Loader{
		logger:        logger.Named("model-loader"),
		fs:            fs,
		httpClient:    httpClient,
		newDownloader: defaultDownloader,
	}
}

func defaultDownloader() (s3manageriface.DownloaderAPI, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create s3 session: %w", err)
	}
	return s3manager.NewDownloader(sess), nil
}

// Load resolves location into a model. An empty location yields no model.
// Every failure is an *errors.InferenceError so callers can fall back to passthrough.
func (l *Loader) Load(ctx context.Context, location string) (Model, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, nil
	case location == BuiltinModel:
		return DefaultModel(), nil
	}

	data, err := l.fetch(ctx, location)
	if err != nil {
		return nil, &errs.InferenceError{Op: "load", Err: err}
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, &errs.InferenceError{Op: "load", Err: fmt.Errorf("%s: %w", location, err)}
	}
	l.logger.Debug("model loaded", "location", location, "name", m.Name, "feature_version", m.FeatureVersion)
	return m, nil
}

func (l *Loader) fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain paths, including windows drive letters
		return l.readFile(location)
	}

	switch u.Scheme {
	case "file":
		return l.readFile(u.Path)
	case "http", "https":
		return l.fetchHTTP(ctx, location)
	case "s3":
		return l.fetchS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	}
	return nil, fmt.Errorf("unsupported model location scheme %q", u.Scheme)
}

func (l *Loader) readFile(path string) ([]byte, error) {
	expanded, err := files.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(l.fs, expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return data, nil
}

func (l *Loader) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	if l.httpClient == nil {
		return nil, fmt.Errorf("no http client configured for %s", location)
	}
	resp, err := l.httpClient.R().SetContext(ctx).Get(location)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch model: unexpected status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

func (l *Loader) fetchS3(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 location must be s3://bucket/key")
	}
	downloader, err := l.newDownloader()
	if err != nil {
		return nil, err
	}

	buf := aws.NewWriteAtBuffer([]byte{})
	_, err = downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("model s3://%s/%s does not exist", bucket, key)
		}
		return nil, fmt.Errorf("failed to download model: %w", err)
	}
	return buf.Bytes(), nil
}
