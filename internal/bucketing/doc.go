// Package bucketing splits a set of instruments into K buckets so that highly
// correlated instruments end up in different buckets.
//
// # Objective
//
// A Partition is scored by Scorer. For every unordered pair of items sharing a
// bucket the absolute correlation |c| is looked up and summed into S. Pairs with
// |c| at or above the high-correlation threshold (65 by default) increment the
// global counter H and the counter of their bucket. The score is
//
//	H*10000 + max(bucket counters)*100000 + S
//
// so concentrating several high pairs in one bucket costs more than having
// many high pairs overall, which in turn costs more than raw correlation mass.
// Pairs without a correlation entry count as 100 (see correlation.MissingValue).
//
// # Search
//
// Optimizer runs Config.Restarts independent restarts. Each restart deals a
// shuffled item list round-robin into the buckets and then climbs:
// buckets, items and destination buckets are visited in random order and the
// first single-item relocation that strictly lowers the score is kept, after
// which the scan starts over with fresh random orderings. A restart converges
// when a full scan finds no improving relocation. The lowest score over all
// restarts wins; ties go to the earliest restart.
//
// Every restart draws from its own *rand.Rand whose seed is derived from
// Config.Seed before any restart runs, so a non-zero seed reproduces the same
// partition for any Config.Workers value. A zero seed uses the clock.
//
// # Usage
//
//	idx, _ := correlation.NewIndexFromRows(rows)
//	opt, err := bucketing.NewOptimizer(bucketing.DefaultConfig(), bucketing.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	res, err := opt.Optimize(ctx, idx.Items(), idx)
//	if err != nil {
//	    return err
//	}
//	for i, bucket := range res.Partition {
//	    fmt.Println(i+1, bucket)
//	}
package bucketing
