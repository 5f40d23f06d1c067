package intent

import (
	"fmt"
	"strings"
	"time"

	"invoicechat/internal/types"
)

// intentSchema constrains the model's output. Mirrors intentWire exactly.
const intentSchema = `{
  "type": "object",
  "properties": {
    "kind": {
      "type": "string",
      "enum": ["find_invoice", "aggregate_query", "list_invoices", "get_details", "unknown"],
      "description": "The purpose of the user's query."
    },
    "filters": {
      "type": "object",
      "properties": {
        "vendor": {"type": "string", "description": "Vendor name if the query names one."},
        "invoice_number": {"type": "string", "description": "Exact invoice number if the query names one."},
        "date_from": {"type": "string", "description": "Start of issue date range, YYYY-MM-DD."},
        "date_to": {"type": "string", "description": "End of issue date range, YYYY-MM-DD."},
        "amount_min": {"type": "number", "description": "Minimum total amount."},
        "amount_max": {"type": "number", "description": "Maximum total amount."},
        "status": {"type": "string", "enum": ["pending", "paid", "overdue"], "description": "Invoice status if the query names one."},
        "aggregate": {"type": "string", "enum": ["sum", "count", "avg", "min", "max"], "description": "Aggregate function for aggregate_query intents."},
        "group_by_vendor": {"type": "boolean", "description": "True when the query asks which vendor leads some measure."}
      }
    }
  },
  "required": ["kind", "filters"]
}`

func systemPrompt() string {
	return `You classify questions about a collection of invoices. Decide the intent and extract only the filters the user stated.

Intents:
- find_invoice: the user wants specific invoices matching criteria.
- aggregate_query: the user wants a computed number (total, count, average, minimum, maximum). Set the aggregate filter. Set group_by_vendor when the question asks which vendor has the most or highest of something.
- list_invoices: the user wants to browse or enumerate invoices.
- get_details: the user wants full details of one particular invoice.
- unknown: the question is not about invoices, or its purpose cannot be determined.

Rules:
- Extract only criteria the user explicitly stated. Never invent filters.
- Leave filter fields empty when not mentioned. For unknown, leave all filters empty.
- Dates are YYYY-MM-DD. Resolve relative ranges like "last month" against today's date given in the query context.
- Amounts are plain numbers without currency symbols.`
}

func userPrompt(query string, prior *types.QueryIntent, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today's date: %s\n", today.Format("2006-01-02"))
	if prior != nil {
		fmt.Fprintf(&b, "Previous question in this conversation: %q\n", prior.RawQuery)
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}
