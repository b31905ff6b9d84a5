package utxo

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
)

func mkUtxo(txid string, vout uint32, amount int64) *UTXO {
	h, _ := chainhash.NewHashFromStr(txid)
	return &UTXO{
		TxID:      txid,
		TxHash:    h,
		Vout:      vout,
		Amount:    amount,
		PkScriptT: P2PKH_SCRIPT_T,
	}
}

func TestSelectSingleUtxoWithChange(t *testing.T) {
	candidates := []*UTXO{
		mkUtxo("1111111111111111111111111111111111111111111111111111111111111111", 0, 150000),
	}

	sel, err := Select(candidates, 100000, DefaultFeePerKB)
	assert.NoError(t, err)
	assert.Len(t, sel.UTXOs, 1)
	assert.Equal(t, int64(1000), sel.Fee)
	assert.Equal(t, int64(49000), sel.Change)
}

func TestSelectMultipleUtxos(t *testing.T) {
	candidates := []*UTXO{
		mkUtxo("1111111111111111111111111111111111111111111111111111111111111111", 0, 40000),
		mkUtxo("2222222222222222222222222222222222222222222222222222222222222222", 1, 40000),
		mkUtxo("3333333333333333333333333333333333333333333333333333333333333333", 0, 40000),
	}

	sel, err := Select(candidates, 100000, DefaultFeePerKB)
	assert.NoError(t, err)
	assert.Len(t, sel.UTXOs, 3)
	assert.Equal(t, int64(120000), sel.Total)
	assert.Equal(t, int64(1000), sel.Fee)
	assert.Equal(t, int64(19000), sel.Change)
}

func TestSelectInsufficientFunds(t *testing.T) {
	candidates := []*UTXO{
		mkUtxo("1111111111111111111111111111111111111111111111111111111111111111", 0, 50000),
	}

	sel, err := Select(candidates, 100000, DefaultFeePerKB)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Nil(t, sel)
}

func TestSelectDustFoldedIntoFee(t *testing.T) {
	// Excess of 100 is below the dust threshold, no change output.
	candidates := []*UTXO{
		mkUtxo("1111111111111111111111111111111111111111111111111111111111111111", 0, 101100),
	}

	sel, err := Select(candidates, 100000, DefaultFeePerKB)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), sel.Change)
	assert.Equal(t, int64(1100), sel.Fee)
}

func TestSelectDeterministic(t *testing.T) {
	candidates := []*UTXO{
		mkUtxo("3333333333333333333333333333333333333333333333333333333333333333", 0, 30000),
		mkUtxo("1111111111111111111111111111111111111111111111111111111111111111", 0, 90000),
		mkUtxo("2222222222222222222222222222222222222222222222222222222222222222", 1, 30000),
	}

	first, err := Select(candidates, 100000, DefaultFeePerKB)
	assert.NoError(t, err)

	// Same candidates in a different order must reproduce the same choice.
	reordered := []*UTXO{candidates[2], candidates[0], candidates[1]}
	second, err := Select(reordered, 100000, DefaultFeePerKB)
	assert.NoError(t, err)

	assert.Equal(t, len(first.UTXOs), len(second.UTXOs))
	for i := range first.UTXOs {
		assert.Equal(t, first.UTXOs[i].OutpointKey(), second.UTXOs[i].OutpointKey())
	}
	assert.Equal(t, first.Fee, second.Fee)
	assert.Equal(t, first.Change, second.Change)
}
