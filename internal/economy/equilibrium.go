package economy

// Equilibrium computes the competitive-equilibrium prices and allocation
// for a quasilinear market with separable logarithmic utility,
//
//	u_i(x, m) = m + Σ_j a_ij * ln(quantityShift + x_j),
//
// under fixed aggregate endowment. At equilibrium every agent's marginal
// utility per unit of money is equal across goods, which gives the closed
// form:
//
//	p_j    = Σ_i a_ij / (shift*n + Σ_i e_ij)
//	x_ij   = a_ij / p_j - shift
//	m_i    = money + Σ_j p_j*(e_ij + shift) - Σ_j a_ij
//
// where a_ij are the utility parameters divided by the scaling factor.
// The result is a benchmark for post-hoc scoring comparison only; nothing
// in settlement enforces it.
func Equilibrium(endowments [][]int, utilityParams [][]float64, moneyEndowment, scaling float64) (prices []float64, goodHoldings [][]float64, moneyHoldings []float64) {
	nbAgents := len(endowments)
	nbGoods := len(endowments[0])

	scaled := make([][]float64, nbAgents)
	for i := range utilityParams {
		row := make([]float64, nbGoods)
		for j, u := range utilityParams[i] {
			row[j] = u / scaling
		}
		scaled[i] = row
	}

	prices = make([]float64, nbGoods)
	for j := 0; j < nbGoods; j++ {
		paramsSum := 0.0
		endowmentSum := 0
		for i := 0; i < nbAgents; i++ {
			paramsSum += scaled[i][j]
			endowmentSum += endowments[i][j]
		}
		prices[j] = paramsSum / (quantityShift*float64(nbAgents) + float64(endowmentSum))
	}

	goodHoldings = make([][]float64, nbAgents)
	moneyHoldings = make([]float64, nbAgents)
	for i := 0; i < nbAgents; i++ {
		row := make([]float64, nbGoods)
		spent := 0.0
		paramsSum := 0.0
		for j := 0; j < nbGoods; j++ {
			row[j] = scaled[i][j]/prices[j] - quantityShift
			spent += prices[j] * (float64(endowments[i][j]) + quantityShift)
			paramsSum += scaled[i][j]
		}
		goodHoldings[i] = row
		moneyHoldings[i] = moneyEndowment + spent - paramsSum
	}
	return prices, goodHoldings, moneyHoldings
}
