package plan

import (
	"fmt"

	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/schema"
)

// Provider hands a scan its chunks and their unified schema for one table.
type Provider struct {
	tableName    string
	schema       *schema.Schema
	chunks       []chunk.Chunk
	pruner       Pruner
	ensurePKSort bool
}

// TableName returns the table the provider serves.
func (p *Provider) TableName() string { return p.tableName }

// Schema returns the unified schema across the provider's chunks.
func (p *Provider) Schema() *schema.Schema { return p.schema }

// Chunks returns the provider's chunks in registration order.
func (p *Provider) Chunks() []chunk.Chunk { return p.chunks }

// EnsurePKSort reports whether scans over this provider must yield rows
// deduplicated and sorted on the primary key.
func (p *Provider) EnsurePKSort() bool { return p.ensurePKSort }

// Prune applies the provider's pruner to its chunks for the given predicate.
func (p *Provider) Prune(predicate *chunk.Predicate) []chunk.Chunk {
	return p.pruner.Prune(p.chunks, predicate)
}

// ProviderBuilder assembles a Provider. Errors are latched and surfaced by
// Build so call sites can chain additions without checking each one.
type ProviderBuilder struct {
	tableName    string
	schema       *schema.Schema
	chunks       []chunk.Chunk
	pruner       Pruner
	ensurePKSort bool
	err          error
}

// NewProviderBuilder starts a builder for the named table.
func NewProviderBuilder(tableName string) *ProviderBuilder {
	return &ProviderBuilder{
		tableName: tableName,
		pruner:    NoopPruner{},
	}
}

// WithSchema fixes the provider's schema instead of merging it from chunks.
func (b *ProviderBuilder) WithSchema(s *schema.Schema) *ProviderBuilder {
	b.schema = s
	return b
}

// WithPruner replaces the default no-op pruner.
func (b *ProviderBuilder) WithPruner(p Pruner) *ProviderBuilder {
	b.pruner = p
	return b
}

// WithEnsurePKSort requires scans to deduplicate and sort on the primary key.
func (b *ProviderBuilder) WithEnsurePKSort() *ProviderBuilder {
	b.ensurePKSort = true
	return b
}

// AddChunk registers a chunk. A chunk from a different table is a caller bug
// and poisons the builder.
func (b *ProviderBuilder) AddChunk(c chunk.Chunk) *ProviderBuilder {
	if b.err != nil {
		return b
	}
	if c.TableName() != b.tableName {
		b.err = errors.NewPrecondition(errors.CodeTableMismatch,
			fmt.Sprintf("chunk %s belongs to table %q, provider serves %q",
				c.ID(), c.TableName(), b.tableName))
		return b
	}
	b.chunks = append(b.chunks, c)
	return b
}

// Build finalizes the provider. Without an explicit schema the chunk schemas
// are merged; a merge conflict fails the build.
func (b *ProviderBuilder) Build() (*Provider, error) {
	if b.err != nil {
		return nil, b.err
	}

	s := b.schema
	if s == nil {
		schemas := make([]*schema.Schema, 0, len(b.chunks))
		for _, c := range b.chunks {
			cs, err := c.Schema()
			if err != nil {
				return nil, errors.NewPlanError(
					fmt.Sprintf("chunk %s schema unavailable", c.ID()), err)
			}
			schemas = append(schemas, cs)
		}
		merged, err := schema.Merge(schemas...)
		if err != nil {
			return nil, err
		}
		s = merged
	}

	return &Provider{
		tableName:    b.tableName,
		schema:       s,
		chunks:       b.chunks,
		pruner:       b.pruner,
		ensurePKSort: b.ensurePKSort,
	}, nil
}
