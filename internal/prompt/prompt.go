// Package prompt assembles the role-tagged messages that drive the sales persona.
package prompt

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/DialPipe/internal/models"
)

// Default persona values.
const (
	DefaultAgentName   = "Alex"
	DefaultCompanyName = "TechInnovate Solutions"
)

// HesitationMarker opens every hesitation-guidance message. Messages carrying it are transient
// and are removed before a conversation is persisted.
const HesitationMarker = "The customer is showing hesitation"

// defaultInterests is used in hesitation guidance when the caller's interests are unknown.
const defaultInterests = "technology"

// Persona identifies the agent the model plays.
type Persona struct {
	AgentName   string
	CompanyName string
}

// Assembler builds prompt messages for one persona.
type Assembler struct {
	persona Persona
}

// NewAssembler creates an Assembler, filling blank persona fields with the defaults.
func NewAssembler(p Persona) *Assembler {
	if strings.TrimSpace(p.AgentName) == "" {
		p.AgentName = DefaultAgentName
	}
	if strings.TrimSpace(p.CompanyName) == "" {
		p.CompanyName = DefaultCompanyName
	}
	return &Assembler{persona: p}
}

// Persona returns the persona in use.
func (a *Assembler) Persona() Persona {
	return a.persona
}

// Initialize returns the starting sequence: the persona system message and, when a profile is
// present, a second system message describing the caller.
func (a *Assembler) Initialize(profile *models.CallerProfile) []models.Message {
	seq := []models.Message{models.SystemMessage(a.personaText())}
	if profile != nil {
		seq = append(seq, models.SystemMessage(profileText(profile)))
	}
	return seq
}

func (a *Assembler) personaText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI sales representative for %s, a leading provider of consumer technology products and services.\n\n",
		a.persona.AgentName, a.persona.CompanyName)
	b.WriteString(`Company Information:
- Founded in 2015
- Serves over 100,000 customers globally
- Award-winning customer support with 24/7 availability
- Products include: Smart home devices, Premium subscription services, Mobile applications, and Personal productivity tools
- Key selling points: Ease of use, Integration with existing devices, Personalization options, Affordable pricing

Your goal is to engage the customer in a friendly conversation and CLOSE THE SALE. The customer may be reluctant, but your job is to persist and convert them.

Advanced Sales Techniques to Use:
1. FOMO (Fear of Missing Out): Mention limited-time offers and how other users are already benefiting
2. Social Proof: Share success stories of similar users with similar interests
3. Problem Agitation: Highlight the inconveniences of not having our solution
4. Future Pacing: Help them visualize how their daily life will improve with our product
5. Assumptive Close: Speak as if they've already decided to buy ("When you start using our product...")
6. Alternative Choice Close: Instead of asking yes/no, offer choices ("Would you prefer the monthly or annual subscription?")
7. Objection Handling: Have 2-3 powerful responses ready for common objections
8. Urgency Creation: Mention upcoming price increases or limited availability

When facing resistance or hesitation:
- Acknowledge their concern but gently redirect to benefits
- Use "feel, felt, found" technique: "I understand how you feel, others felt the same way, but they found that..."
- Never give up after the first "no" - most sales happen after 5+ follow-ups
- If they're not interested in one product, pivot to another that might better address their needs
- Use flattery and personalization to make them feel special and valued

Your responses should be conversational, friendly, and persuasive. Keep them concise (1-3 sentences) for a natural conversation flow.`)
	return b.String()
}

func profileText(p *models.CallerProfile) string {
	var b strings.Builder
	b.WriteString("Customer Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", models.ValueOr(p.Name, models.UnknownValue))
	fmt.Fprintf(&b, "- Last Visit Date: %s\n", models.ValueOr(p.LastVisitDate, models.UnknownValue))
	fmt.Fprintf(&b, "- Products Viewed: %s\n", models.ValueOr(p.ProductsViewed, models.UnknownValue))
	fmt.Fprintf(&b, "- Previous Purchases: %s\n", models.ValueOr(p.PreviousPurchases, models.NoneValue))
	fmt.Fprintf(&b, "- Interests: %s\n", models.ValueOr(p.Interests, models.UnknownValue))
	fmt.Fprintf(&b, "- Age Group: %s\n", models.ValueOr(p.AgeGroup, models.UnknownValue))
	fmt.Fprintf(&b, "- Device Usage: %s\n\n", models.ValueOr(p.DeviceUsage, models.UnknownValue))
	b.WriteString("Use this information to personalize the conversation. Reference their previous interactions, " +
		"product interests, and past purchases to create a tailored experience. " +
		"Make them feel remembered and valued as a returning customer.")
	return b.String()
}

// IntroductionInstruction returns the user-role instruction that asks the model for an opening line.
// It is sent once and never persisted.
func (a *Assembler) IntroductionInstruction(profile *models.CallerProfile) models.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "As %s, generate a warm, personalized introduction to start the sales call.", a.persona.AgentName)
	if profile != nil {
		if models.Known(profile.Name) {
			fmt.Fprintf(&b, " Address %s by name.", profile.Name)
		}
		if models.Known(profile.LastVisitDate) {
			fmt.Fprintf(&b, " Mention their last visit on %s.", profile.LastVisitDate)
		}
		if models.Known(profile.ProductsViewed) {
			fmt.Fprintf(&b, " Reference their interest in %s.", profile.ProductsViewed)
		}
		if models.Known(profile.PreviousPurchases) {
			fmt.Fprintf(&b, " Acknowledge their previous purchase of %s.", profile.PreviousPurchases)
		}
	}
	b.WriteString(" Ask an open-ended question about their needs or interests. " +
		"Be friendly, conversational, and enthusiastic. Keep it concise (2-3 sentences).")
	return models.UserMessage(b.String())
}

// HesitationGuidance returns the transient system message added when the caller hesitates.
func (a *Assembler) HesitationGuidance(profile *models.CallerProfile) models.Message {
	interests := defaultInterests
	if profile != nil && models.Known(profile.Interests) {
		interests = profile.Interests
	}
	return models.SystemMessage(HesitationMarker + ". Use flattery and personalization to make them feel special. " +
		"Compliment their taste, insight, or decision-making process. Focus on how they specifically will benefit " +
		"from our product in ways that align with their interests and lifestyle. Use phrases like " +
		"'Someone with your taste would appreciate...' or 'Given your interest in " + interests +
		", you'd especially enjoy...'.")
}

// ClosingInstruction returns the system message that asks for a closing statement.
func (a *Assembler) ClosingInstruction() models.Message {
	return models.SystemMessage("The conversation is ending. Generate a warm, friendly closing statement that thanks " +
		"the customer for their time, summarizes any commitments or next steps, and includes a clear call to action. " +
		"Mention a special offer or limited-time discount if appropriate to encourage immediate action. " +
		"Keep it concise and personalized.")
}

// IsHesitationGuidance reports whether m is a hesitation-guidance message.
func IsHesitationGuidance(m models.Message) bool {
	return m.Role == models.RoleSystem && strings.Contains(m.Content, HesitationMarker)
}

// StripHesitationGuidance returns seq without hesitation-guidance messages. seq is not modified.
func StripHesitationGuidance(seq []models.Message) []models.Message {
	out := make([]models.Message, 0, len(seq))
	for _, m := range seq {
		if !IsHesitationGuidance(m) {
			out = append(out, m)
		}
	}
	return out
}
