package main

// This file holds the CLI's I/O helpers: a readio.PairSource that chains
// multiple FASTQ file-pairs in sequence, and the optional side-channel
// writers, kept separate from main.go's flag wiring the same way
// cmd/bio-fusion splits its main.go from io.go.

import (
	"context"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"

	"github.com/bpow/heatseq/bamio"
	"github.com/bpow/heatseq/internal/config"
	"github.com/bpow/heatseq/pipeline"
	"github.com/bpow/heatseq/readio"
)

// fastqChain reads every (r1Paths[i], r2Paths[i]) file pair in order,
// advancing to the next pair once the current one is exhausted; this lets
// -r1/-r2 name a comma-separated list of files the way cmd/bio-fusion's
// r1/r2 flags do.
type fastqChain struct {
	ctx          context.Context
	r1Paths      []string
	r2Paths      []string
	idx          int
	cur          *readio.FastqPairSource
	curF1, curF2 file.File
	err          error
}

func newFastqChain(ctx context.Context, r1Paths, r2Paths []string) (*fastqChain, error) {
	c := &fastqChain{ctx: ctx, r1Paths: r1Paths, r2Paths: r2Paths}
	if err := c.openNext(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *fastqChain) openNext() error {
	c.closeCurrent()
	if c.idx >= len(c.r1Paths) {
		c.cur = nil
		return nil
	}
	f1, err := file.Open(c.ctx, c.r1Paths[c.idx])
	if err != nil {
		return errors.Wrapf(err, "open %s", c.r1Paths[c.idx])
	}
	f2, err := file.Open(c.ctx, c.r2Paths[c.idx])
	if err != nil {
		return errors.Wrapf(err, "open %s", c.r2Paths[c.idx])
	}
	c.curF1, c.curF2 = f1, f2
	c.cur = readio.NewFastqPairSource(f1.Reader(c.ctx), f2.Reader(c.ctx))
	c.idx++
	return nil
}

func (c *fastqChain) closeCurrent() {
	if c.curF1 != nil {
		c.curF1.Close(c.ctx)
		c.curF1 = nil
	}
	if c.curF2 != nil {
		c.curF2.Close(c.ctx)
		c.curF2 = nil
	}
}

// ScanPair implements readio.PairSource, advancing to the next file pair
// transparently once the current one is exhausted.
func (c *fastqChain) ScanPair(r1, r2 *readio.Record) bool {
	if c.err != nil {
		return false
	}
	for c.cur != nil {
		if c.cur.ScanPair(r1, r2) {
			return true
		}
		if err := c.cur.Err(); err != nil {
			c.err = err
			return false
		}
		if err := c.openNext(); err != nil {
			c.err = err
			return false
		}
	}
	return false
}

// Err implements readio.PairSource.
func (c *fastqChain) Err() error { return c.err }

// openSideChannels opens the optional tab-separated report files named by
// opts, returning a no-op cleanup func when none are configured. Absence of
// any one channel must not impair the core pipeline (spec.md §6), so the
// zero value of pipeline.SideChannels (all nil) is the fallback.
func openSideChannels(ctx context.Context, opts *config.Opts) (pipeline.SideChannels, func(), error) {
	var channels pipeline.SideChannels
	var opened []*bamio.SideChannel

	open := func(path, header string, dst **bamio.SideChannel) error {
		if path == "" {
			return nil
		}
		f, err := file.Create(ctx, path)
		if err != nil {
			return errors.Wrapf(err, "create %s", path)
		}
		sc := bamio.NewSideChannel(f.Writer(ctx), header)
		opened = append(opened, sc)
		*dst = sc
		return nil
	}

	if err := open(opts.AmbiguousPath, bamio.AmbiguousHeader, &channels.Ambiguous); err != nil {
		return channels, nil, err
	}
	if err := open(opts.ProbeUIDPath, bamio.ProbeUIDQualityHeader, &channels.ProbeUIDQuality); err != nil {
		return channels, nil, err
	}
	if err := open(opts.UnableAlignPath, bamio.UnableToAlignHeader, &channels.UnableToAlign); err != nil {
		return channels, nil, err
	}
	if err := open(opts.UnmappedPath, bamio.UnmappedHeader, &channels.Unmapped); err != nil {
		return channels, nil, err
	}
	if err := open(opts.PrimerDetail, bamio.PrimerAlignmentDetail, &channels.PrimerDetail); err != nil {
		return channels, nil, err
	}

	cleanup := func() {
		for _, sc := range opened {
			_ = sc.Close()
		}
	}
	return channels, cleanup, nil
}
