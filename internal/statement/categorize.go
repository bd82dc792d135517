package statement

import "strings"

// Expense categories assigned by Categorize.
const (
	CategoryMarket    = "Mercado/Supermercado"
	CategoryFuel      = "Combustível"
	CategoryFood      = "Alimentação"
	CategoryPharmacy  = "Farmácia"
	CategoryParking   = "Estacionamento"
	CategoryBankFees  = "Taxas Bancárias"
	CategoryRoyalties = "Royalties Alpha"
	CategoryInternal  = "Starken (interno)"
	CategoryTransfers = "Transferências/Pagamentos"
)

type rule struct {
	category string
	keywords []string
}

// Checked in order; the first match wins.
var rules = []rule{
	{CategoryMarket, []string{"mercado", "market", "supermercado"}},
	{CategoryFuel, []string{"posto", "combustivel", "gasolina"}},
	{CategoryFood, []string{"restaurante", "lanchonete", "pizza", "burger", "cafe", "confeitaria"}},
	{CategoryPharmacy, []string{"drogasil", "farmacia", "drogaria"}},
	{CategoryParking, []string{"parking", "estacionamento"}},
	{CategoryBankFees, []string{"taxa", "tarifa", "mensageria", "boleto"}},
	{CategoryRoyalties, []string{"assessoria alpha", "alpha ltda"}},
	{CategoryInternal, []string{"starken"}},
}

// Categorize assigns an expense category from keywords in the description.
// Anything unrecognized is treated as a transfer or payment.
func Categorize(description string) string {
	d := strings.ToLower(description)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(d, kw) {
				return r.category
			}
		}
	}
	return CategoryTransfers
}
