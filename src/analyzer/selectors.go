package analyzer

// Selector cascades, highest priority first. Later entries cover older or
// alternative page templates of the same site.
var (
	titleSelectors = []string{
		"h1.articleTitle",
		"h1.blog--title",
		"h1.article--title",
		"div.article--title",
		"header h1",
		"meta[property='og:title']",
	}

	subtitleSelectors = []string{
		"div.blog--subtitle",
		"div.article--subtitle",
		".article--lead",
		".article-description",
	}

	publishedSelectors = []string{
		"#livePublishedAtContainer",
		".article--date--published",
		"time[itemprop='datePublished']",
	}

	updatedSelectors = []string{
		"#liveRetainAtContainerInner",
		".article--date--updated",
		"time[itemprop='dateModified']",
	}

	imageSelectors = []string{
		"div.blog--image img",
		"picture img",
		"figure.article--media img",
		"meta[property='og:image']",
	}

	imageDescriptionSelectors = []string{
		"p.article--media--lead",
		"figure figcaption",
	}

	imageAuthorSelectors = []string{
		"p.image--author",
		".article--media--author",
	}

	authorSelectors = []string{
		"div.author p.name a",
		"div.author p.name",
		".article--author a",
		"meta[name='author']",
	}

	breadcrumbSelectors = []string{
		"ul.breadcrumb--component",
		"nav.breadcrumbs ul",
		"ol.breadcrumb",
	}

	introSelectors = []string{
		"div.intro--body--text--fadeOut p.articleBodyBlock",
		"div.article--intro p",
	}

	contentSelectors = []string{
		"div.article--content.mx-auto.my-0",
		"div.article-body",
		"div.article--content",
		"div.article--text",
		"article.article-content",
		"div.blog--content",
	}

	// image source attributes in resolution order
	imageAttrs = []string{"content", "src", "data-src"}
)

const (
	textBlockSelector = "p, h2, h3, h4, h5, h6, li, blockquote"

	// blocks inside any of these are captions, tags, share bars or teasers
	excludedSelector = "figcaption, .image--author, .article--tags, .tags, .social, .article--social, .related, .article--related, aside"

	dateLayout = "02.01.2006 15:04"
)
