package workload

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dynamocore/internal/vclock"
)

// OpKind distinguishes the two request shapes a workload can issue.
type OpKind int

const (
	OpGet OpKind = iota
	OpPut
)

// Op is one workload request: which node to send it to, when to issue it
// (relative to the start of the run), and — for puts — whether to read the
// key's current context first (a read-modify-write, which avoids manufactured
// sibling conflicts) or write blind with an empty context (which does not:
// independently-initialized writes are always concurrent with one another).
type Op struct {
	Kind            OpKind
	At              string
	Key             string
	Value           []byte
	After           time.Duration
	ReadModifyWrite bool
}

// FaultEvent injects a crash or recover at a point in the run.
type FaultEvent struct {
	After  time.Duration
	Node   string
	Action string // "crash" | "recover"
}

// Params is measure's input: a cluster topology, a workload of ops, and an
// optional fault schedule to interleave with it.
type Params struct {
	Cluster        ClusterConfig
	Ops            []Op
	Faults         []FaultEvent
	RequestTimeout time.Duration
}

// Result is measure's output: request-level availability plus read-quality
// metrics gathered from the get responses seen during the run.
type Result struct {
	TotalRequests int
	Succeeded     int
	Availability  float64

	GetCount          int
	InconsistentReads int
	Inconsistency     float64

	StaleReads float64
}

// Measure runs params.Ops (and any Faults) against a fresh cluster and
// reports availability, inconsistency, and stale-read rate.
//
// Availability is the fraction of issued requests (gets and puts alike)
// that returned success=true before RequestTimeout. Inconsistency is the
// fraction of successful gets whose response carried more than one sibling
// value. Stale reads is the fraction of successful gets whose returned
// value set did not include the most recent value this harness itself
// acknowledged writing for that key — a read-your-writes check against the
// harness's own reference log, not a claim about global recency.
func Measure(params Params) Result {
	c := NewCluster(params.Cluster)
	defer c.Stop()

	reqTimeout := params.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 2 * time.Second
	}

	var faultWG sync.WaitGroup
	for _, f := range params.Faults {
		f := f
		faultWG.Add(1)
		go func() {
			defer faultWG.Done()
			time.Sleep(f.After)
			switch f.Action {
			case "crash":
				c.Crash(f.Node)
			case "recover":
				c.Recover(f.Node)
			}
		}()
	}

	var mu sync.Mutex
	lastWritten := make(map[string][]byte)

	var total, succeeded, gets, okGets, inconsistent, stale int64

	var opWG sync.WaitGroup
	for _, op := range params.Ops {
		op := op
		opWG.Add(1)
		go func() {
			defer opWG.Done()
			time.Sleep(op.After)

			reqCtx, cancel := context.WithTimeout(context.Background(), reqTimeout)
			defer cancel()

			atomic.AddInt64(&total, 1)
			switch op.Kind {
			case OpGet:
				atomic.AddInt64(&gets, 1)
				resp, err := c.Get(reqCtx, op.At, op.Key)
				if err != nil || !resp.Success {
					return
				}
				atomic.AddInt64(&succeeded, 1)
				atomic.AddInt64(&okGets, 1)
				if len(resp.Values) > 1 {
					atomic.AddInt64(&inconsistent, 1)
				}
				mu.Lock()
				want, known := lastWritten[op.Key]
				mu.Unlock()
				if known && !containsValue(resp.Values, want) {
					atomic.AddInt64(&stale, 1)
				}

			case OpPut:
				writeCtx := vclock.NewCtx()
				if op.ReadModifyWrite {
					if getResp, err := c.Get(reqCtx, op.At, op.Key); err == nil && getResp.Success && getResp.Context != nil {
						writeCtx = *getResp.Context
					}
				}
				resp, err := c.Put(reqCtx, op.At, op.Key, op.Value, writeCtx)
				if err != nil || !resp.Success {
					return
				}
				atomic.AddInt64(&succeeded, 1)
				mu.Lock()
				lastWritten[op.Key] = op.Value
				mu.Unlock()
			}
		}()
	}
	opWG.Wait()
	faultWG.Wait()

	r := Result{
		TotalRequests:     int(total),
		Succeeded:         int(succeeded),
		GetCount:          int(gets),
		InconsistentReads: int(inconsistent),
	}
	if total > 0 {
		r.Availability = float64(succeeded) / float64(total)
	}
	if okGets > 0 {
		r.Inconsistency = float64(inconsistent) / float64(okGets)
		r.StaleReads = float64(stale) / float64(okGets)
	}
	return r
}

func containsValue(values [][]byte, want []byte) bool {
	for _, v := range values {
		if bytes.Equal(v, want) {
			return true
		}
	}
	return false
}
