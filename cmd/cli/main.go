package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nazeru/medstore-orders-go/internal/apiclient"
	"github.com/nazeru/medstore-orders-go/internal/auth"
)

var methods = []string{"bank_transfer", "cash_on_delivery"}

type model struct {
	runner         *runner
	selectedMethod int
	selectedScn    int
	status         string
	metrics        string
	busy           bool
}

func initialModel(r *runner) model {
	return model{runner: r, status: "Ready"}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.selectedMethod = step(m.selectedMethod, -1, len(methods))
		case "down", "j":
			m.selectedMethod = step(m.selectedMethod, 1, len(methods))
		case "left", "h":
			m.selectedScn = step(m.selectedScn, -1, len(scenarios))
		case "right", "l":
			m.selectedScn = step(m.selectedScn, 1, len(scenarios))
		case "enter":
			if m.busy {
				break
			}
			m.busy, m.status, m.metrics = true, "Running...", ""
			return m, runScenarioCmd(m.runner, methods[m.selectedMethod], scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy, m.status, m.metrics = false, msg.status, msg.metrics
	}
	return m, nil
}

// step moves a cursor within [0, n) without wrapping.
func step(cur, delta, n int) int {
	return min(max(cur+delta, 0), n-1)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString("medstore orders console\n\n")

	b.WriteString("Payment method:\n")
	for i, method := range methods {
		b.WriteString(menuLine(i == m.selectedMethod, ">", method))
	}

	fmt.Fprintf(&b, "\nScenarios on %s (use left/right):\n", m.runner.product)
	for i, scn := range scenarios {
		b.WriteString(menuLine(i == m.selectedScn, "*", scn.Name+" - "+scn.Description))
	}

	fmt.Fprintf(&b, "\nStatus: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(&b, "Metrics: %s\n", m.metrics)
	}
	b.WriteString("\nControls: up/down select payment method, left/right select scenario, enter to run, q to quit\n")
	return b.String()
}

func menuLine(selected bool, marker, label string) string {
	if !selected {
		marker = " "
	}
	return " " + marker + " " + label + "\n"
}

func runScenarioCmd(r *runner, method, scn string) tea.Cmd {
	return func() tea.Msg {
		return r.run(context.Background(), method, scn)
	}
}

// tokens signs a customer and an admin token with the service secret. With no
// secret the console calls the API anonymously.
func tokens(secret, issuer string) (customer, admin string, err error) {
	v := auth.NewValidator(secret, issuer)
	if v == nil {
		return "", "", nil
	}
	if customer, err = v.Issue("console-customer", "", 12*time.Hour); err != nil {
		return "", "", err
	}
	if admin, err = v.Issue("console-admin", auth.RoleAdmin, 12*time.Hour); err != nil {
		return "", "", err
	}
	return customer, admin, nil
}

func main() {
	runCmd := flag.String("run", "", "run scenario: checkout|confirm|cancel|approve|reject|race|bench")
	method := flag.String("method", "bank_transfer", "payment method: bank_transfer|cash_on_delivery")
	product := flag.String("product", getenv("CLI_PRODUCT", "wheelchair"), "product id used by the scenarios")
	racers := flag.Int("racers", 10, "orders competing in the race scenario")
	flag.Parse()

	customerToken, adminToken, err := tokens(os.Getenv("JWT_SECRET"), getenv("JWT_ISSUER", "medstore"))
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	client := apiclient.New(getenv("ORDER_BASE_URL", "http://localhost:8080"), customerToken, 5*time.Second)
	r := &runner{
		customer: client,
		admin:    client.WithToken(adminToken),
		product:  *product,
		racers:   *racers,
		benchFor: 5 * time.Second,
	}

	if *runCmd != "" {
		res := r.run(context.Background(), *method, *runCmd)
		fmt.Println(res.status)
		if res.metrics != "" {
			fmt.Println(res.metrics)
		}
		return
	}

	p := tea.NewProgram(initialModel(r))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
