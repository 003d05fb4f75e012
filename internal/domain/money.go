package domain

import "github.com/shopspring/decimal"

// Деньги храним во float64, а считаем суммы и округляем через decimal,
// чтобы не копить ошибку двоичного представления.

// LineTotal - quantity × unitCost.
func LineTotal(quantity int, unitCost float64) float64 {
	return decimal.NewFromInt(int64(quantity)).Mul(decimal.NewFromFloat(unitCost)).InexactFloat64()
}

// Sum складывает денежные значения.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.InexactFloat64()
}

// Round2 - округление до центов. Только для отображения.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// FormatMoney печатает сумму как $1234.50.
func FormatMoney(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}
