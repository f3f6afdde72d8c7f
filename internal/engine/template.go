package engine

import (
	"strconv"
	"strings"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// RenderMessage substitutes the client placeholders supported by message templates.
func RenderMessage(template string, c *domain.Client) string {
	return strings.NewReplacer(
		"{{nome}}", c.NomeCompleto,
		"{{cpf}}", c.CPF,
		"{{valor}}", strconv.FormatFloat(c.ValorParcela, 'f', -1, 64),
	).Replace(template)
}
