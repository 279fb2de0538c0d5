// Package fixture reads settlement snapshots from YAML files on disk. It
// implements both ports.OnchainSource and ports.OffchainSource so the monitor
// can replay recorded settlements without a node or a database.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

const ext = ".yaml"

// Source lee un archivo por tx hash desde dir.
type Source struct {
	dir string
}

// NewSource crea un Source sobre dir. El directorio se lee en cada fetch, así
// que los fixtures añadidos después son visibles en un recheck.
func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// Path devuelve la ruta del fixture para txHash.
func (s *Source) Path(txHash common.Hash) string {
	return filepath.Join(s.dir, strings.ToLower(txHash.Hex())+ext)
}

// TxHashes lista los tx hashes con fixture, en orden lexicográfico.
func (s *Source) TxHashes() ([]common.Hash, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("fixture.TxHashes: read dir %q: %w", s.dir, err)
	}

	var hashes []common.Hash
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		h, err := parseHash("file name", strings.TrimSuffix(name, ext))
		if err != nil {
			continue // no es un fixture
		}
		hashes = append(hashes, h)
	}
	slices.SortFunc(hashes, func(a, b common.Hash) int { return a.Cmp(b) })
	return hashes, nil
}

// FetchOnchain implementa ports.OnchainSource.
func (s *Source) FetchOnchain(ctx context.Context, txHash common.Hash) (domain.OnchainSettlementData, error) {
	doc, err := s.load(ctx, txHash)
	if err != nil {
		return domain.OnchainSettlementData{}, err
	}
	if doc.Onchain == nil {
		return domain.OnchainSettlementData{}, fmt.Errorf("fixture.FetchOnchain: %s: %w", txHash.Hex(), domain.ErrMissingOnchainData)
	}

	data, err := doc.Onchain.decode(txHash)
	if err != nil {
		return domain.OnchainSettlementData{}, &domain.NoncriticalDataFetchingError{
			Msg: fmt.Sprintf("fixture.FetchOnchain: decode %s", txHash.Hex()),
			Err: err,
		}
	}
	return data, nil
}

// FetchOffchain implementa ports.OffchainSource. Una sección offchain ausente
// se reintenta; una sección que no decodifica se atribuye al solver on-chain.
func (s *Source) FetchOffchain(ctx context.Context, txHash common.Hash, auctionID int64) (domain.OffchainSettlementData, error) {
	doc, err := s.load(ctx, txHash)
	if err != nil {
		return domain.OffchainSettlementData{}, err
	}
	if doc.Offchain == nil {
		return domain.OffchainSettlementData{}, &domain.NoncriticalDataFetchingError{
			Msg:     fmt.Sprintf("fixture.FetchOffchain: no competition data for auction %d", auctionID),
			Recheck: true,
		}
	}

	critical := func(err error) error {
		var solver common.Address
		if doc.Onchain != nil && common.IsHexAddress(doc.Onchain.Solver) {
			solver = common.HexToAddress(doc.Onchain.Solver)
		}
		return &domain.CriticalDataFetchingError{
			Msg:    fmt.Sprintf("fixture.FetchOffchain: auction %d", auctionID),
			Solver: solver,
			Err:    err,
		}
	}

	data, err := doc.Offchain.decode()
	if err != nil {
		return domain.OffchainSettlementData{}, critical(err)
	}
	if data.AuctionID != auctionID {
		return domain.OffchainSettlementData{}, critical(
			fmt.Errorf("auction_id: got %d, settlement is for %d", data.AuctionID, auctionID))
	}
	return data, nil
}

func (s *Source) load(ctx context.Context, txHash common.Hash) (*document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(txHash)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.NoncriticalDataFetchingError{
			Msg:     fmt.Sprintf("fixture: read %q", path),
			Recheck: !errors.Is(err, fs.ErrNotExist),
			Err:     err,
		}
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.NoncriticalDataFetchingError{
			Msg: fmt.Sprintf("fixture: parse %q", path),
			Err: err,
		}
	}
	return &doc, nil
}
