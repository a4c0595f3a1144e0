package lens

import (
	"bytes"
	"crypto/sha1"
	"runtime"

	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

const ErrorLogPrefix = "!! "

// ErrGroupLimitCPU returns an errgroup limited to NumCPU.
func ErrGroupLimitCPU() *errgroup.Group {
	errGroup := &errgroup.Group{}
	errGroup.SetLimit(runtime.NumCPU())
	return errGroup
}

func marshalMsgpack(enc *msgpack.Encoder, v any) ([]byte, error) {
	var buf bytes.Buffer
	enc.Reset(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type chartTokenSource struct {
	BuildID int       `msgpack:"id"`
	Chart   ChartSpec `msgpack:"c"`
}

// chartToken provides a short identifier of a chart and the build it presents. Selections carry the token of the
// chart they were made against so that a selection on a chart which has since changed can be rejected, including
// a chart of another build with identical content.
func chartToken(buildID int, spec ChartSpec) string {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	b, err := marshalMsgpack(enc, chartTokenSource{BuildID: buildID, Chart: spec})
	if err != nil {
		panic(err) // chart specs only contain encodable values
	}
	sha := sha1.Sum(b)
	return base91.StdEncoding.EncodeToString(sha[:12])
}
