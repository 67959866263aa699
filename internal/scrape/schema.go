package scrape

import "encoding/json"

// OutputSchema is the JSON schema handed to the agent for structured output.
var OutputSchema = json.RawMessage(`{
  "type": "object",
  "required": ["products"],
  "properties": {
    "products": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "supermarket_name", "country", "bio"],
        "properties": {
          "name": {"type": "string"},
          "subtype": {"type": ["string", "null"]},
          "website_product_name": {"type": ["string", "null"]},
          "price_per_kg": {"type": ["number", "null"]},
          "price_per_unit": {"type": ["number", "null"]},
          "currency": {"type": ["string", "null"]},
          "original_price_info": {"type": ["string", "null"]},
          "estimation_notes": {"type": ["string", "null"]},
          "supermarket_name": {"type": "string"},
          "country": {"type": "string"},
          "bio": {"type": "boolean"}
        }
      }
    }
  }
}`)

// ShapeHint is the compact example of the expected document used in prompts.
const ShapeHint = `{"products": [{"name": "...", "subtype": "...", "website_product_name": "...", ` +
	`"price_per_kg": 0.0, "price_per_unit": 0.0, "currency": "EUR", "original_price_info": "...", ` +
	`"estimation_notes": "...", "supermarket_name": "...", "country": "...", "bio": false}]}`
