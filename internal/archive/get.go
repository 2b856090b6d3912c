package archive

import (
	"context"
	"fmt"

	"github.com/tis24dev/pgsave/internal/transfer"
)

// Get retrieves one archived segment into dst for recovery. The transfer
// result code is returned verbatim as the process outcome: the
// restore_command caller reads 1 as "no more segments", which must not be
// reported as an error.
func (p *Pipeline) Get(ctx context.Context, name, dst string) (int, error) {
	if name == "" || dst == "" {
		return transfer.FetchFail, fmt.Errorf("archive-get: segment name and destination: %w", ErrMissingArgument)
	}

	code, err := p.svc.FetchSegment(ctx, name, dst)
	if err != nil {
		return code, fmt.Errorf("fetch segment %s: %w", name, err)
	}
	switch code {
	case transfer.FetchFound:
		p.logger.Debug("Segment %s restored to %s", name, dst)
	case transfer.FetchAbsent:
		p.logger.Debug("Segment %s not present in the archive", name)
	}
	return code, nil
}
