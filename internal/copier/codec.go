package copier

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedType is returned when a codec cannot handle the given value
var ErrUnsupportedType = errors.New("unsupported value type for codec")

// Codec serializes a value into a stream and reconstructs a value from it
type Codec interface {
	Name() string
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// Gob encodes arbitrary Go value graphs with encoding/gob.
// Only exported fields are copied; unexported state is left zero in the copy.
type Gob struct{}

func (Gob) Name() string { return "gob" }

func (Gob) Encode(w io.Writer, v any) error {
	return gob.NewEncoder(w).Encode(v)
}

func (Gob) Decode(r io.Reader, v any) error {
	return gob.NewDecoder(r).Decode(v)
}

// YAML encodes values as YAML documents
type YAML struct{}

func (YAML) Name() string { return "yaml" }

func (YAML) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (YAML) Decode(r io.Reader, v any) error {
	return yaml.NewDecoder(r).Decode(v)
}

// Proto encodes protobuf messages in wire format
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (Proto) Encode(w io.Writer, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedType, v)
	}
	data, err := proto.Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode accepts a proto.Message or a pointer to a message pointer, allocating the message if nil
func (Proto) Decode(r io.Reader, v any) error {
	m, err := protoTarget(v)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, m)
}

func protoTarget(v any) (proto.Message, error) {
	if m, ok := v.(proto.Message); ok {
		return m, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Pointer {
		elem := rv.Elem()
		if elem.IsNil() {
			elem.Set(reflect.New(elem.Type().Elem()))
		}
		if m, ok := elem.Interface().(proto.Message); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedType, v)
}

type zstdCodec struct {
	inner    Codec
	encoders *sync.Pool // *zstd.Encoder
	decoders *sync.Pool // *zstd.Decoder
}

// Zstd compresses the output of inner with zstd.
// Encoders and decoders are single-threaded and reused across calls.
func Zstd(inner Codec) Codec {
	return zstdCodec{
		inner: inner,
		encoders: &sync.Pool{New: func() any {
			enc, err := zstd.NewWriter(nil,
				zstd.WithEncoderConcurrency(1),
				zstd.WithLowerEncoderMem(true),
			)
			if err != nil {
				return err
			}
			return enc
		}},
		decoders: &sync.Pool{New: func() any {
			dec, err := zstd.NewReader(nil,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderLowmem(true),
			)
			if err != nil {
				return err
			}
			return dec
		}},
	}
}

func (c zstdCodec) Name() string { return c.inner.Name() + "+zstd" }

func (c zstdCodec) Encode(w io.Writer, v any) error {
	enc, ok := c.encoders.Get().(*zstd.Encoder)
	if !ok {
		return errors.New("failed to create zstd encoder")
	}
	enc.Reset(w)
	defer c.encoders.Put(enc)

	if err := c.inner.Encode(enc, v); err != nil {
		return err
	}
	return enc.Close()
}

func (c zstdCodec) Decode(r io.Reader, v any) error {
	dec, ok := c.decoders.Get().(*zstd.Decoder)
	if !ok {
		return errors.New("failed to create zstd decoder")
	}
	if err := dec.Reset(r); err != nil {
		c.decoders.Put(dec)
		return fmt.Errorf("failed to reset zstd decoder: %w", err)
	}
	defer c.decoders.Put(dec)
	return c.inner.Decode(dec, v)
}

// CodecByName returns the codec for a configuration name, optionally wrapped in zstd
func CodecByName(name string, compress bool) (Codec, error) {
	var c Codec
	switch name {
	case "", "gob":
		c = Gob{}
	case "yaml":
		c = YAML{}
	case "proto":
		c = Proto{}
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
	if compress {
		c = Zstd(c)
	}
	return c, nil
}
