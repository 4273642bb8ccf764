package aggregator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 聚合器响应的形状约束。动态 JSON 不做隐式信任，形状不符直接判失败。
const quoteSchemaJSON = `{
  "type": "object",
  "required": ["inputMint", "outputMint", "inAmount", "outAmount", "priceImpactPct"],
  "properties": {
    "inputMint": {"type": "string", "minLength": 32},
    "outputMint": {"type": "string", "minLength": 32},
    "inAmount": {"type": "string", "pattern": "^[0-9]+$"},
    "outAmount": {"type": "string", "pattern": "^[0-9]+$"},
    "priceImpactPct": {"type": "string"},
    "routeId": {"type": "string"}
  }
}`

const swapSchemaJSON = `{
  "type": "object",
  "required": ["swapTransaction"],
  "properties": {
    "swapTransaction": {"type": "string", "minLength": 1}
  }
}`

var (
	quoteSchema = jsonschema.MustCompileString("quote.json", quoteSchemaJSON)
	swapSchema  = jsonschema.MustCompileString("swap.json", swapSchemaJSON)
)

func validateQuotePayload(body []byte) error {
	return validatePayload(quoteSchema, body)
}

func validateSwapPayload(body []byte) error {
	return validatePayload(swapSchema, body)
}

func validatePayload(schema *jsonschema.Schema, body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("响应不是合法 JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("响应形状不符合预期: %w", err)
	}
	return nil
}
