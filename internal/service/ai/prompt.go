package ai

import (
	"strings"
)

// SystemPrompt fixes the assistant role for website generation.
const SystemPrompt = "You are a web developer expert in creating clean, modern, production-ready websites."

// ImageAnalysisInstruction is sent alongside every inspiration image.
const ImageAnalysisInstruction = "Analyze this image for website design elements. Describe colors, layout, and style."

const websiteRequirements = `Requirements:
1. Use modern design patterns and animations:
   - Smooth fade-in animations for elements
   - Subtle hover effects
   - Scroll animations
2. Include essential sections with proper styling:
   - Navigation with smooth transitions
   - Hero section with engaging layout
   - Content sections with proper spacing
   - Footer with proper information
3. Implement professional features:
   - Responsive navigation menu
   - Contact form with validation
   - Social media integration
   - Loading states and transitions
4. Use these technologies:
   - Tailwind CSS for styling
   - Alpine.js for interactivity
   - CSS animations and transitions
   - Modern meta tags and SEO elements

The website should be visually striking and professionally polished.
Return one complete, self-contained HTML document (from <!DOCTYPE html> to </html>) and nothing else.`

// BuildWebsitePrompt assembles the user prompt from the description and the optional
// image analysis text.
func BuildWebsitePrompt(description, imageAnalysis string) string {
	var b strings.Builder
	b.WriteString("Create a modern, professional website based on this description: ")
	b.WriteString(strings.TrimSpace(description))
	b.WriteString("\n\n")

	if analysis := strings.TrimSpace(imageAnalysis); analysis != "" {
		b.WriteString("Design inspiration taken from the reference images:\n")
		b.WriteString(analysis)
		b.WriteString("\n\n")
	}

	b.WriteString(websiteRequirements)
	return b.String()
}
