package allocation

// HoursPerYear converts a yearly volume into an average hourly rate when a
// consumer has no hourly figure of its own.
const HoursPerYear = 8760

// Expenses is a consumer's resolved consumption.
type Expenses struct {
	Yearly float64
	Hourly float64
}

// ResolveExpenses derives yearly and hourly consumption from the raw cells.
// It returns false when the yearly cell is blank, unparsable or not positive;
// that is the common case for consumers with no registered consumption.
func ResolveExpenses(c Consumer) (Expenses, bool) {
	yearly, ok := ParseDecimal(c.YearlyExpense)
	if !ok || yearly <= 0 {
		return Expenses{}, false
	}

	hourly, ok := ParseDecimal(c.HourlyExpense)
	if !ok || hourly <= 0 {
		hourly = yearly / HoursPerYear
	}

	return Expenses{Yearly: yearly, Hourly: hourly}, true
}

// HasExpenses is the eligibility gate for binding: the yearly cell must
// parse to a positive number. The hourly cell is not consulted.
func HasExpenses(c Consumer) bool {
	yearly, ok := ParseDecimal(c.YearlyExpense)
	return ok && yearly > 0
}
