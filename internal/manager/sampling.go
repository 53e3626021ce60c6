package manager

// samplingParams are the generate options derived from a request's
// temperature and top_p.
type samplingParams struct {
	doSample    bool
	temperature *float64
	topP        *float64
}

// resolveSampling enables sampling when temperature > 0 or when
// 0 < top_p < 1, so nucleus-only sampling works at temperature 0.
// Temperature is passed only when positive, top_p only when in (0, 1].
func resolveSampling(temperature, topP float64) samplingParams {
	p := samplingParams{
		doSample: temperature > 0 || (topP > 0 && topP < 1),
	}
	if temperature > 0 {
		t := temperature
		p.temperature = &t
	}
	if topP > 0 && topP <= 1 {
		v := topP
		p.topP = &v
	}
	return p
}
