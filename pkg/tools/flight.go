package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// flightRoutes is the demo flight table: departure -> destination -> flight number.
var flightRoutes = map[string]map[string]string{
	"北京": {"上海": "1234", "广州": "8321", "深圳": "5678"},
	"上海": {"北京": "1233", "广州": "8123", "深圳": "5432"},
	"广州": {"北京": "8322", "上海": "8124", "深圳": "3456"},
}

// cityAliases maps romanized names onto the table keys.
var cityAliases = map[string]string{
	"beijing":   "北京",
	"shanghai":  "上海",
	"guangzhou": "广州",
	"shenzhen":  "深圳",
}

var ticketPrices = map[string]int{
	"1234": 1500, "1233": 1500,
	"8321": 1200, "8322": 1200,
	"8123": 1300, "8124": 1300,
	"5678": 1100, "5432": 1100,
	"3456": 1000,
}

const defaultTicketPrice = 800

func normalizeCity(name string) string {
	name = strings.TrimSpace(name)
	if c, ok := cityAliases[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

type FlightNumberInput struct {
	Departure   string `json:"departure" jsonschema_description:"Departure city."`
	Destination string `json:"destination" jsonschema_description:"Destination city."`
	Date        string `json:"date" jsonschema_description:"Travel date (YYYY-MM-DD)."`
}

// FlightNumberTool looks up the flight serving a route.
type FlightNumberTool struct{}

func (t *FlightNumberTool) Name() string { return "get_flight_number" }

func (t *FlightNumberTool) Description() string {
	return "Look up the flight number for a departure city, destination city and date."
}

func (t *FlightNumberTool) Parameters() map[string]any { return GenerateSchema[FlightNumberInput]() }

func (t *FlightNumberTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	in, err := DecodeArgs[FlightNumberInput](args)
	if err != nil {
		return "", err
	}
	switch {
	case in.Departure == "":
		return "", fmt.Errorf("missing 'departure' parameter")
	case in.Destination == "":
		return "", fmt.Errorf("missing 'destination' parameter")
	case in.Date == "":
		return "", fmt.Errorf("missing 'date' parameter")
	}

	dep, dst := normalizeCity(in.Departure), normalizeCity(in.Destination)
	number, ok := flightRoutes[dep][dst]
	if !ok {
		return "", fmt.Errorf("no flight found from %s to %s", in.Departure, in.Destination)
	}

	slog.DebugContext(ctx, "Flight lookup", "departure", dep, "destination", dst, "flight_number", number)
	b, err := json.Marshal(map[string]string{
		"flight_number": number,
		"departure":     dep,
		"destination":   dst,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type TicketPriceInput struct {
	FlightNumber string `json:"flight_number" jsonschema_description:"Flight number."`
	Date         string `json:"date" jsonschema_description:"Travel date (YYYY-MM-DD)."`
}

// TicketPriceTool quotes the fare of a flight. Unknown flights get the default fare.
type TicketPriceTool struct{}

func (t *TicketPriceTool) Name() string { return "get_ticket_price" }

func (t *TicketPriceTool) Description() string {
	return "Look up the ticket price of a flight on a given date."
}

func (t *TicketPriceTool) Parameters() map[string]any { return GenerateSchema[TicketPriceInput]() }

func (t *TicketPriceTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	in, err := DecodeArgs[TicketPriceInput](args)
	if err != nil {
		return "", err
	}
	if in.FlightNumber == "" {
		return "", fmt.Errorf("missing 'flight_number' parameter")
	}

	price, ok := ticketPrices[in.FlightNumber]
	if !ok {
		price = defaultTicketPrice
	}

	b, err := json.Marshal(map[string]any{
		"ticket_price":  price,
		"flight_number": in.FlightNumber,
		"currency":      "CNY",
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
