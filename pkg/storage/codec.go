package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodec builds the shared block encoder and decoder on first use.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

func encodeValue(codec string, raw []byte) ([]byte, error) {
	if codec != codecZstd {
		return raw, nil
	}
	enc, _, err := zstdCodec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func decodeValue(codec string, stored []byte) ([]byte, error) {
	switch codec {
	case codecJSON, "":
		return stored, nil
	case codecZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(stored, nil)
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

func checkTarget(dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("storage: Load target must be a non-nil pointer")
	}
	return nil
}

// decodeInto unmarshals raw into dst through a scratch value so a corrupt
// document never leaves dst half populated. On failure dst is zeroed.
func decodeInto(log logrus.FieldLogger, key string, raw []byte, dst interface{}) bool {
	target := reflect.ValueOf(dst).Elem()
	fail := func(err error) bool {
		log.WithField("key", key).WithError(fmt.Errorf("%w: %v", ErrCorruptState, err)).
			Warn("Discarding unreadable stored value")
		target.Set(reflect.Zero(target.Type()))
		return false
	}

	if !gjson.ValidBytes(raw) {
		return fail(errors.New("malformed JSON"))
	}
	scratch := reflect.New(target.Type())
	if err := json.Unmarshal(raw, scratch.Interface()); err != nil {
		return fail(err)
	}
	target.Set(scratch.Elem())
	return true
}
