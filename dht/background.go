package dht

import (
	"time"

	"github.com/SharefulNetworks/shareful-gsls/storage"
	"github.com/SharefulNetworks/shareful-gsls/unpanicked"
)

func (n *Node) startBackgroundLoops() {
	n.every("janitor", n.cfg.JanitorInterval, n.expire)
	n.every("republisher", n.cfg.RepublishInterval, n.republish)
	n.every("bucket refresher", n.cfg.BucketRefreshInterval, n.refreshBuckets)
}

// every runs fn on a ticker from the node's clock until the node closes. A panicking
// tick is logged and the loop carries on.
func (n *Node) every(name string, interval time.Duration, fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		t := n.clock.Ticker(interval)
		defer t.Stop()
		for {
			select {
			case <-n.stop:
				return
			case <-t.C:
				unpanicked.Run(n.log, name, fn)
			}
		}
	}()
}

// expire drops locally held values whose TTL has run out.
func (n *Node) expire() {
	dropped, err := n.store.DeleteExpired(n.clock.Now())
	if err != nil {
		n.log.Warn("janitor failed", "err", err)
		return
	}
	if dropped > 0 {
		n.log.Debug("expired values", "count", dropped)
	}
}

// republish re-stores every locally held value on its current K closest peers with a
// fresh TTL while this node is still one of them. Values it no longer replicates are
// dropped.
func (n *Node) republish() {
	var (
		records []storage.Record
		dropped int
	)
	if err := n.store.Range(func(rec storage.Record) bool {
		records = append(records, rec)
		return true
	}); err != nil {
		n.log.Warn("republish failed to list values", "err", err)
		return
	}

	for _, rec := range records {
		if n.closed() {
			return
		}
		deadline := time.Now().Add(n.cfg.OperationTimeout)
		res := n.iterativeLookup(rec.Key, OP_FIND_NODE, deadline)
		targets, selfIncluded := n.replicaSet(rec.Key, res.Closest)

		//no longer a replica: forget the copy, never push it.
		if !selfIncluded {
			if err := n.store.Delete(rec.Key); err != nil {
				n.log.Warn("republish failed to drop non-replica copy", "key", rec.Key.String(), "err", err)
			}
			dropped++
			continue
		}

		acks, err := n.storeAt(targets, rec.Key, rec.Value, n.cfg.ValueTTL, deadline)
		if err != nil {
			n.log.Debug("republish incomplete", "key", rec.Key.String(), "acks", acks, "err", err)
		}
		rec.Expiry = n.clock.Now().Add(n.cfg.ValueTTL)
		if err := n.store.Put(rec); err != nil {
			n.log.Warn("republish failed to renew local copy", "key", rec.Key.String(), "err", err)
		}
	}
	if len(records) > 0 {
		n.log.Debug("republished values", "count", len(records)-dropped, "dropped", dropped)
	}
}

// refreshBuckets looks up a random id in every bucket that has seen no traffic for
// BucketRefreshInterval, in batches of BucketRefreshBatchSize.
func (n *Node) refreshBuckets() {
	stale := n.rt.StaleBuckets(n.cfg.BucketRefreshInterval)
	for start := 0; start < len(stale); start += n.cfg.BucketRefreshBatchSize {
		end := min(start+n.cfg.BucketRefreshBatchSize, len(stale))
		for _, idx := range stale[start:end] {
			if n.closed() {
				return
			}
			target := n.rt.RandomIDInBucket(idx)
			n.iterativeLookup(target, OP_FIND_NODE, time.Now().Add(n.cfg.OperationTimeout))
		}
		if end < len(stale) {
			select {
			case <-n.stop:
				return
			case <-n.clock.After(n.cfg.BucketRefreshBatchDelayInterval):
			}
		}
	}
	if len(stale) > 0 {
		n.log.Debug("refreshed buckets", "count", len(stale), "peers", n.rt.Size())
	}
}
