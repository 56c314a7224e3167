package blockchain

import (
	"context"
	"fmt"
	"strconv"

	"credential-registry/internal/model"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// the REST API refuses larger pages
const maxPageSize = 1000

type blockRef struct {
	Num uint64
	ID  string
}

type blockListResponse struct {
	Data []struct {
		Header struct {
			BlockNum string `yaml:"block_num"`
		} `yaml:"header"`
		HeaderSignature string `yaml:"header_signature"`
	} `yaml:"data"`
}

func (c *Client) listBlocks(ctx context.Context, apiSuffix string) ([]blockRef, error) {
	response, err := c.sendRequest(ctx, apiSuffix, nil, "")
	if err != nil {
		return nil, err
	}

	var list blockListResponse
	if err := yaml.Unmarshal([]byte(response), &list); err != nil {
		return nil, fmt.Errorf("failed to read the block list: %w", err)
	}

	blocks := make([]blockRef, 0, len(list.Data))
	for _, b := range list.Data {
		num, err := strconv.ParseUint(b.Header.BlockNum, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid block number %q: %w", b.Header.BlockNum, err)
		}
		blocks = append(blocks, blockRef{Num: num, ID: b.HeaderSignature})
	}
	return blocks, nil
}

// HeadBlock returns the number of the chain head.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	blocks, err := c.listBlocks(ctx, blocksAPI+"?limit=1")
	if err != nil {
		return 0, err
	}
	if len(blocks) == 0 {
		return 0, fmt.Errorf("%w: empty block list", model.ErrLedgerUnavailable)
	}

	head := blocks[0].Num
	if prev := c.head.Swap(head); head < prev {
		c.logger.Warn("chain head moved back, dropping cached block ids", zap.Uint64("head", head), zap.Uint64("previous", prev))
		c.blockIDs.Flush()
	}
	return head, nil
}

// isFinal tells whether the id of block n can no longer change.
func (c *Client) isFinal(n uint64) bool {
	head := c.head.Load()
	return head >= c.finality && n <= head-c.finality
}

// blockRange resolves the ids of blocks from..to, in ascending order.
func (c *Client) blockRange(ctx context.Context, from, to uint64) ([]blockRef, error) {
	out := make([]blockRef, 0, to-from+1)
	missing := false
	for n := from; n <= to; n++ {
		id, ok := c.blockIDs.Get(strconv.FormatUint(n, 10))
		if !ok {
			missing = true
			break
		}
		out = append(out, blockRef{Num: n, ID: id.(string)})
	}
	if !missing {
		return out, nil
	}

	// pages run from start downwards
	found := make(map[uint64]string, to-from+1)
	next := to
	for {
		limit := next - from + 1
		if limit > maxPageSize {
			limit = maxPageSize
		}
		page, err := c.listBlocks(ctx, fmt.Sprintf("%s?start=0x%016x&limit=%d", blocksAPI, next, limit))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		lowest, inRange := next, 0
		for _, b := range page {
			if b.Num < from || b.Num > to {
				continue
			}
			inRange++
			found[b.Num] = b.ID
			if c.isFinal(b.Num) {
				c.blockIDs.Set(strconv.FormatUint(b.Num, 10), b.ID, cache.DefaultExpiration)
			}
			if b.Num < lowest {
				lowest = b.Num
			}
		}
		if inRange == 0 || lowest <= from {
			break
		}
		next = lowest - 1
	}

	out = out[:0]
	for n := from; n <= to; n++ {
		id, ok := found[n]
		if !ok {
			c.logger.Warn("block missing from the block list", zap.Uint64("block", n))
			return nil, fmt.Errorf("%w: block %d is not known to the validator", model.ErrLedgerUnavailable, n)
		}
		out = append(out, blockRef{Num: n, ID: id})
	}
	return out, nil
}
