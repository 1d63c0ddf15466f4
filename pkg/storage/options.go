package storage

import (
	"github.com/anitier/anitier/internal/utils"
	"github.com/sirupsen/logrus"
)

// DefaultQuotaBytes mirrors the usual per-origin browser storage quota.
const DefaultQuotaBytes = 5 << 20

type options struct {
	quota    int64
	compress bool
	log      logrus.FieldLogger
}

// Option configures a KV backend.
type Option func(*options)

// WithQuota caps the total raw size of all stored values. Zero disables the cap.
func WithQuota(bytes int64) Option {
	return func(o *options) { o.quota = bytes }
}

// WithCompression stores values zstd-compressed. Only the sqlite backend honours it.
func WithCompression() Option {
	return func(o *options) { o.compress = true }
}

// WithLogger sets the logger used for corruption warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{quota: DefaultQuotaBytes, log: utils.Log}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) fits(others, size int64) bool {
	return o.quota <= 0 || others+size <= o.quota
}
