package manager

import (
	"captiond/internal/coerce"
	"captiond/internal/runtime"
)

type specialTokens struct {
	bos, eos, pad          int64
	hasBOS, hasEOS, hasPad bool
}

// resolveSpecialTokens picks bos/eos/pad from the generation config first
// and the tokenizer second, with pad falling back to eos. Resolved ids are
// written back to gcfg so later calls see the same values. Generation
// cannot stop or pad without eos or pad, so missing both is an error.
func resolveSpecialTokens(gcfg *runtime.GenerationConfig, tok runtime.Tokenizer) (specialTokens, error) {
	var st specialTokens
	var fromGen [3]any
	if gcfg != nil {
		fromGen = [3]any{gcfg.BOSTokenID, gcfg.EOSTokenID, gcfg.PadTokenID}
	}
	var fromTok [3]func() (int64, bool)
	if tok != nil {
		fromTok = [3]func() (int64, bool){tok.BOSTokenID, tok.EOSTokenID, tok.PadTokenID}
	}
	pick := func(i int) (int64, bool) {
		if id, ok := coerce.ID(fromGen[i]); ok {
			return id, true
		}
		if fromTok[i] != nil {
			return fromTok[i]()
		}
		return 0, false
	}
	st.bos, st.hasBOS = pick(0)
	st.eos, st.hasEOS = pick(1)
	st.pad, st.hasPad = pick(2)
	if !st.hasPad && st.hasEOS {
		st.pad, st.hasPad = st.eos, true
	}
	if !st.hasEOS && !st.hasPad {
		return st, newError(KindInferFailed, "generation config and tokenizer define neither eos nor pad token", nil)
	}

	if gcfg != nil {
		if st.hasEOS {
			gcfg.EOSTokenID = st.eos
		}
		if st.hasBOS {
			gcfg.BOSTokenID = st.bos
		}
		gcfg.PadTokenID = st.pad
	}
	return st, nil
}
